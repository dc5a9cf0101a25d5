package harvest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	scrollToBottomScript = `(() => { window.scrollTo(0, document.body.scrollHeight); return document.body.scrollHeight; })()`
	scrollToTopScript    = `(() => { window.scrollTo(0, 0); return 0; })()`
)

// countScript returns the number of elements matching the first selector
// with at least one match.
func countScript(selectors []string) string {
	list, _ := json.Marshal(selectors)
	return fmt.Sprintf(`(() => {
  for (const sel of %s) {
    const n = document.querySelectorAll(sel).length;
    if (n > 0) { return n; }
  }
  return 0;
})()`, list)
}

// smoothScrollScript scrolls in randomized steps until the bottom of the
// document or maxSteps is reached, resolving with the step count.
func smoothScrollScript(cfg ScrollConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, `new Promise((resolve) => {
  const stepMin = %d, stepMax = %d, waitMin = %d, waitMax = %d, maxSteps = %d;
  const rand = (lo, hi) => Math.floor(Math.random() * (hi - lo + 1)) + lo;
  let steps = 0;
  const tick = () => {
    window.scrollBy(0, rand(stepMin, stepMax));
    steps++;
    const atBottom = window.innerHeight + window.scrollY >= document.body.scrollHeight;
    if (atBottom || steps >= maxSteps) { resolve(steps); return; }
    setTimeout(tick, rand(waitMin, waitMax));
  };
  tick();
})`, cfg.StepMin, cfg.StepMax, cfg.IntervalMin/time.Millisecond, cfg.IntervalMax/time.Millisecond, cfg.MaxSteps)
	return b.String()
}
