package harvest_test

import (
	"fmt"
	"strings"
)

type answerFixture struct {
	author  string
	ip      string
	label   string
	content string
}

func questionPage(title string, answers ...answerFixture) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="QuestionHeader"><h1 class="QuestionHeader-title">`)
	b.WriteString(title)
	b.WriteString(`</h1><div class="QuestionRichText"><span class="RichText ztext">question body</span></div></div><div class="List">`)
	for _, a := range answers {
		fmt.Fprintf(&b, `<div class="List-item"><div class="AnswerItem">`+
			`<div class="AuthorInfo"><span class="AuthorInfo-name">%s</span>`+
			`<div class="AuthorInfo-detail"><span>IP 属地：%s</span></div></div>`+
			`<div class="RichContent-inner"><span class="RichText ztext"><p>%s</p></span></div>`+
			`<button class="Button VoteButton VoteButton--up" aria-label="%s">▲ %s</button>`+
			`</div></div>`, a.author, a.ip, a.content, a.label, strings.TrimPrefix(a.label, "赞同 "))
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func numberedAnswers(n int) []answerFixture {
	out := make([]answerFixture, n)
	for i := range out {
		out[i] = answerFixture{
			author:  fmt.Sprintf("user%d", i+1),
			ip:      "广东",
			label:   fmt.Sprintf("赞同 %d", (i+1)*10),
			content: fmt.Sprintf("answer %d", i+1),
		}
	}
	return out
}
