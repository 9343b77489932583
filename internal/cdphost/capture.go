package cdphost

import (
	"encoding/json"
	"fmt"

	"github.com/sackio/unibrowse/internal/audit"
)

// bindingName is the page-global function the capture script reports through.
const bindingName = "__unibrowseCapture"

// captureScript installs passive listeners once per document and reports each
// interaction as a JSON string through the binding. Text and values are cut
// to 200 characters in the page; password fields never report a value.
var captureScript = fmt.Sprintf(`(() => {
  if (window.__unibrowseInstalled) return;
  window.__unibrowseInstalled = true;
  const report = window[%[1]q];
  if (typeof report !== "function") return;
  const cut = (s) => (s == null ? "" : String(s)).slice(0, 200);
  const selectorOf = (el) => {
    if (!el || el.nodeType !== 1) return "";
    if (el.id) return "#" + CSS.escape(el.id);
    const parts = [];
    for (let n = el; n && n.nodeType === 1 && parts.length < 5; n = n.parentElement) {
      let part = n.tagName.toLowerCase();
      if (n.id) { parts.unshift("#" + CSS.escape(n.id)); break; }
      const parent = n.parentElement;
      if (parent) {
        const same = Array.from(parent.children).filter((c) => c.tagName === n.tagName);
        if (same.length > 1) part += ":nth-of-type(" + (same.indexOf(n) + 1) + ")";
      }
      parts.unshift(part);
    }
    return parts.join(" > ");
  };
  const describe = (el) => {
    if (!el || el.nodeType !== 1) return undefined;
    const secret = el.type === "password";
    return {
      tag: el.tagName.toLowerCase(),
      id: el.id || "",
      class: typeof el.className === "string" ? cut(el.className) : "",
      selector: selectorOf(el),
      text: cut(el.innerText || el.textContent || ""),
      value: secret ? "" : cut(el.value),
    };
  };
  const send = (type, ev, extra) => {
    try {
      report(JSON.stringify(Object.assign({
        type: type,
        timestamp: Date.now(),
        url: location.href,
        element: describe(ev && ev.target),
      }, extra || {})));
    } catch (_) {}
  };
  document.addEventListener("click", (ev) => send("click", ev, { x: ev.clientX, y: ev.clientY }), true);
  document.addEventListener("keydown", (ev) => send("keydown", ev, { key: ev.key }), true);
  document.addEventListener("input", (ev) => send("input", ev, { value: ev.target && ev.target.type === "password" ? "" : cut(ev.target && ev.target.value) }), true);
  document.addEventListener("change", (ev) => send("change", ev, { value: ev.target && ev.target.type === "password" ? "" : cut(ev.target && ev.target.value) }), true);
  document.addEventListener("submit", (ev) => send("submit", ev), true);
  let scrollTimer = 0;
  window.addEventListener("scroll", () => {
    if (scrollTimer) return;
    scrollTimer = setTimeout(() => {
      scrollTimer = 0;
      send("scroll", null, { x: window.scrollX, y: window.scrollY });
    }, 250);
  }, { capture: true, passive: true });
})();`, bindingName)

// decodeCapture turns one binding payload into an audit entry.
func decodeCapture(targetID, payload string) (audit.Entry, error) {
	var e audit.Entry
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return audit.Entry{}, fmt.Errorf("cdphost: capture payload: %w", err)
	}
	if e.Type == "" {
		return audit.Entry{}, fmt.Errorf("cdphost: capture payload without type")
	}
	e.Seq = 0
	e.TargetID = targetID
	return e, nil
}
