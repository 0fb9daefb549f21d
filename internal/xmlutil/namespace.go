// Package xmlutil provides namespace-tolerant helpers over beevik/etree
// for building and parsing WebDAV/CalDAV multistatus documents. Real
// servers disagree on namespace prefixes (some use "D:", some "d:", some
// declare DAV: as the default namespace), so every lookup here matches on
// local tag name alone, ignoring both the prefix and the namespace URI.
package xmlutil

import "github.com/beevik/etree"

const (
	NSDAV            = "DAV:"
	NSCalDAV         = "urn:ietf:params:xml:ns:caldav"
	NSCalendarServer = "http://calendarserver.org/ns/"
	NSAppleICal      = "http://apple.com/ns/ical/"
)

// FindChild returns the first direct child of elem whose local tag
// matches name, regardless of namespace prefix.
func FindChild(elem *etree.Element, name string) *etree.Element {
	if elem == nil {
		return nil
	}
	for _, c := range elem.ChildElements() {
		if localName(c.Tag) == name {
			return c
		}
	}
	return nil
}

// FindChildren returns every direct child of elem whose local tag
// matches name.
func FindChildren(elem *etree.Element, name string) []*etree.Element {
	if elem == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range elem.ChildElements() {
		if localName(c.Tag) == name {
			out = append(out, c)
		}
	}
	return out
}

// localName strips a "prefix:" from a tag, since etree does not resolve
// prefixes to namespace URIs on elements parsed from raw documents that
// declare namespaces only on the root.
func localName(tag string) string {
	for i := len(tag) - 1; i >= 0; i-- {
		if tag[i] == ':' {
			return tag[i+1:]
		}
	}
	return tag
}

// NewRequestDocument creates a document whose root element is rootTag,
// declared in the DAV: namespace plus any extraNamespaces, using the
// conventional "d:"/"c:" prefixes.
func NewRequestDocument(rootTag string, extraNamespaces ...string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("d:" + rootTag)
	root.CreateAttr("xmlns:d", NSDAV)
	for i, ns := range extraNamespaces {
		root.CreateAttr(prefixFor(i, ns), ns)
	}
	return doc, root
}

func prefixFor(i int, ns string) string {
	switch ns {
	case NSCalDAV:
		return "xmlns:c"
	case NSCalendarServer:
		return "xmlns:cs"
	case NSAppleICal:
		return "xmlns:a"
	default:
		return "xmlns:x" + string(rune('0'+i))
	}
}

// CreateChild creates a child element under parent using the "d:" prefix,
// matching the convention NewRequestDocument establishes.
func CreateChild(parent *etree.Element, tag string) *etree.Element {
	return parent.CreateElement("d:" + tag)
}

// CreateCalDAVChild creates a child element under parent in the CalDAV
// namespace, using the "c:" prefix.
func CreateCalDAVChild(parent *etree.Element, tag string) *etree.Element {
	return parent.CreateElement("c:" + tag)
}
