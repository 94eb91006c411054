package badge

import (
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// StyleID identifies the injected stylesheet.
const StyleID = "bili-quality-style"

const stylesheet = `
.bili-quality-tag {
    display: inline-flex !important;
    align-items: center;
    background: linear-gradient(135deg, #FF6B6B, #FF4D4D) !important;
    color: white !important;
    padding: 3px 10px !important;
    border-radius: 15px !important;
    margin-right: 10px !important;
    font-size: 12px !important;
    animation: badgeSlideIn 0.3s ease-out !important;
    position: relative;
    z-index: 2;
}
.bili-quality-tag > span { margin-right: 4px; }
.video-page-card-small .bili-quality-tag {
    position: absolute;
    left: 8px;
    top: 8px;
    transform: scale(0.9);
}
.bili-quality-loading { color: #999; margin-right: 8px; }
@keyframes badgeSlideIn {
    0% { opacity: 0; transform: translateX(-15px); }
    100% { opacity: 1; transform: translateX(0); }
}
`

// InjectStyle adds the badge stylesheet to <head> once.
func (r *Renderer) InjectStyle() bool {
	injected := false
	r.doc.Update(func(root *goquery.Selection) {
		if root.Find("#"+StyleID).Length() > 0 {
			return
		}
		head := root.Find("head").First()
		if head.Length() == 0 {
			return
		}

		style := &html.Node{
			Type:     html.ElementNode,
			Data:     "style",
			DataAtom: atom.Style,
			Attr:     []html.Attribute{{Key: "id", Val: StyleID}},
		}
		style.AppendChild(&html.Node{Type: html.TextNode, Data: stylesheet})
		head.AppendNodes(style)
		injected = true
	})
	return injected
}
