package headless

import "strings"

const scrollBottomJS = `(() => {
	window.scrollTo(0, document.body.scrollHeight);
	return document.body.scrollHeight;
})()`

const revealHiddenJS = `(() => {
	let n = 0;
	for (const el of document.querySelectorAll('body *')) {
		if (window.getComputedStyle(el).display === 'none') {
			el.style.display = 'block';
			n++;
		}
	}
	return n;
})()`

// Cross-origin frames throw on contentDocument access and are skipped.
const sameOriginFramesJS = `(() => {
	const out = [];
	for (const frame of document.querySelectorAll('iframe')) {
		try {
			const doc = frame.contentDocument;
			if (doc && doc.body) {
				out.push(doc.body.innerHTML);
			}
		} catch (e) {}
	}
	return out;
})()`

// mergeFrames appends each frame body inside the page's closing body tag.
func mergeFrames(page string, frames []string) string {
	var extra strings.Builder
	for _, f := range frames {
		if strings.TrimSpace(f) == "" {
			continue
		}
		extra.WriteString(`<div data-harvest-frame="true">`)
		extra.WriteString(f)
		extra.WriteString("</div>")
	}
	if extra.Len() == 0 {
		return page
	}
	idx := strings.LastIndex(strings.ToLower(page), "</body>")
	if idx < 0 {
		return page + extra.String()
	}
	return page[:idx] + extra.String() + page[idx:]
}
