package xmlutil

import (
	"fmt"

	"github.com/beevik/etree"
)

// PropStat is one <propstat> block: a set of successfully (or
// unsuccessfully) returned properties and the status line they share.
type PropStat struct {
	Status     string
	Properties map[string]*etree.Element
}

// Response is one <response> block inside a <multistatus> document.
type Response struct {
	Href      string
	Status    string // set for href-level (not per-property) status
	PropStats []PropStat
}

// Multistatus is a parsed WebDAV/CalDAV multistatus document.
type Multistatus struct {
	Responses []Response
	SyncToken string
}

// ParseMultistatus parses a raw multistatus response body.
func ParseMultistatus(body []byte) (*Multistatus, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("xmlutil: parsing multistatus body: %w", err)
	}
	root := doc.Root()
	if root == nil || localName(root.Tag) != "multistatus" {
		return nil, fmt.Errorf("xmlutil: expected multistatus root element, got %v", rootTagOrNil(root))
	}

	ms := &Multistatus{}
	for _, respElem := range FindChildren(root, "response") {
		resp := Response{}
		if hrefElem := FindChild(respElem, "href"); hrefElem != nil {
			resp.Href = hrefElem.Text()
		}
		if statusElem := FindChild(respElem, "status"); statusElem != nil {
			resp.Status = statusElem.Text()
		}
		for _, psElem := range FindChildren(respElem, "propstat") {
			ps := PropStat{Properties: map[string]*etree.Element{}}
			if statusElem := FindChild(psElem, "status"); statusElem != nil {
				ps.Status = statusElem.Text()
			}
			if propElem := FindChild(psElem, "prop"); propElem != nil {
				for _, p := range propElem.ChildElements() {
					ps.Properties[localName(p.Tag)] = p
				}
			}
			resp.PropStats = append(resp.PropStats, ps)
		}
		ms.Responses = append(ms.Responses, resp)
	}
	if tokenElem := FindChild(root, "sync-token"); tokenElem != nil {
		ms.SyncToken = tokenElem.Text()
	}
	return ms, nil
}

func rootTagOrNil(e *etree.Element) string {
	if e == nil {
		return "<none>"
	}
	return e.Tag
}

// Prop looks up a successfully returned property (status 200) by local
// tag name across a Response's propstat blocks.
func (r Response) Prop(name string) *etree.Element {
	for _, ps := range r.PropStats {
		if ps.Status != "" && !IsSuccessStatus(ps.Status) {
			continue
		}
		if el, ok := ps.Properties[name]; ok {
			return el
		}
	}
	return nil
}

// PropText is a convenience around Prop that returns the property's text
// content, or "" if the property is absent.
func (r Response) PropText(name string) string {
	if el := r.Prop(name); el != nil {
		return el.Text()
	}
	return ""
}

// IsSuccessStatus reports whether a WebDAV status line like "HTTP/1.1 200 OK"
// indicates success.
func IsSuccessStatus(status string) bool {
	return len(status) >= 13 && status[9] == '2'
}
