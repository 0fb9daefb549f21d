package caldavclient

import (
	"time"

	"github.com/beevik/etree"

	"github.com/caldavgo/caldav/internal/xmlutil"
)

func namespaceForProp(name string) string {
	switch name {
	case "getctag":
		return xmlutil.NSCalendarServer
	case "calendar-home-set", "calendar-data", "schedule-inbox-URL", "schedule-outbox-URL",
		"supported-calendar-component-set", "calendar-timezone":
		return xmlutil.NSCalDAV
	case "calendar-color":
		return xmlutil.NSAppleICal
	default:
		return xmlutil.NSDAV
	}
}

func createPropChild(prop *etree.Element, name string) *etree.Element {
	switch namespaceForProp(name) {
	case xmlutil.NSCalDAV:
		return xmlutil.CreateCalDAVChild(prop, name)
	case xmlutil.NSAppleICal:
		e := prop.CreateElement("a:" + name)
		return e
	case xmlutil.NSCalendarServer:
		e := prop.CreateElement("cs:" + name)
		return e
	default:
		return xmlutil.CreateChild(prop, name)
	}
}

func buildPropfindBody(propNames ...string) []byte {
	doc, root := xmlutil.NewRequestDocument("propfind", xmlutil.NSCalDAV, xmlutil.NSAppleICal, xmlutil.NSCalendarServer)
	prop := xmlutil.CreateChild(root, "prop")
	for _, name := range propNames {
		createPropChild(prop, name)
	}
	b, _ := doc.WriteToBytes()
	return b
}

func buildCalendarQueryBody(start, end time.Time, expandTZ bool) []byte {
	doc, root := xmlutil.NewRequestDocument("calendar-query", xmlutil.NSCalDAV)
	prop := xmlutil.CreateChild(root, "prop")
	xmlutil.CreateChild(prop, "getetag")
	xmlutil.CreateCalDAVChild(prop, "calendar-data")

	filter := xmlutil.CreateCalDAVChild(root, "filter")
	compVcal := xmlutil.CreateCalDAVChild(filter, "comp-filter")
	compVcal.CreateAttr("name", "VCALENDAR")
	compVevent := xmlutil.CreateCalDAVChild(compVcal, "comp-filter")
	compVevent.CreateAttr("name", "VEVENT")

	timeRange := xmlutil.CreateCalDAVChild(compVevent, "time-range")
	timeRange.CreateAttr("start", start.UTC().Format("20060102T150405Z"))
	timeRange.CreateAttr("end", end.UTC().Format("20060102T150405Z"))

	b, _ := doc.WriteToBytes()
	return b
}

func buildCalendarMultigetBody(hrefs []string) []byte {
	doc, root := xmlutil.NewRequestDocument("calendar-multiget", xmlutil.NSCalDAV)
	prop := xmlutil.CreateChild(root, "prop")
	xmlutil.CreateChild(prop, "getetag")
	xmlutil.CreateCalDAVChild(prop, "calendar-data")
	for _, href := range hrefs {
		h := xmlutil.CreateChild(root, "href")
		h.SetText(href)
	}
	b, _ := doc.WriteToBytes()
	return b
}

func buildSyncCollectionBody(syncToken string) []byte {
	doc, root := xmlutil.NewRequestDocument("sync-collection", xmlutil.NSCalDAV)
	token := xmlutil.CreateChild(root, "sync-token")
	token.SetText(syncToken)
	level := xmlutil.CreateChild(root, "sync-level")
	level.SetText("1")
	prop := xmlutil.CreateChild(root, "prop")
	xmlutil.CreateChild(prop, "getetag")
	xmlutil.CreateCalDAVChild(prop, "calendar-data")
	b, _ := doc.WriteToBytes()
	return b
}
