// Package xml holds the WebDAV request and response documents the CalDAV
// handler exchanges. They are built on etree rather than encoding/xml
// because DAV payloads mix namespaces with open-ended property lists.
package xml

import "github.com/beevik/etree"

// Namespace URIs used in CalDAV documents.
const (
	// DAV is the WebDAV namespace.
	DAV = "DAV:"
	// CalDAV is the CalDAV namespace.
	CalDAV = "urn:ietf:params:xml:ns:caldav"
)

// UTCTimeLayout is the format of time-range attributes on the wire.
const UTCTimeLayout = "20060102T150405Z"

// caldavProps are the property names RFC 4791 defines in the CalDAV
// namespace. Requested names are bare by the time they reach a response
// builder, so echoing one back (typically inside a 404 propstat) needs
// this lookup to restore the right prefix.
var caldavProps = map[string]struct{}{
	"calendar-data":                    {},
	"calendar-description":             {},
	"calendar-home-set":                {},
	"calendar-timezone":                {},
	"calendar-user-address-set":        {},
	"max-attendees-per-instance":       {},
	"max-date-time":                    {},
	"max-instances":                    {},
	"max-resource-size":                {},
	"min-date-time":                    {},
	"supported-calendar-component-set": {},
	"supported-calendar-data":          {},
}

// PropNamespace returns the namespace a bare property name belongs to.
func PropNamespace(name string) string {
	if _, ok := caldavProps[name]; ok {
		return CalDAV
	}
	return DAV
}

// AddNamespaces declares the D and C prefixes on the document root.
func AddNamespaces(doc *etree.Document) {
	root := doc.Root()
	if root == nil {
		return
	}
	root.CreateAttr("xmlns:D", DAV)
	root.CreateAttr("xmlns:C", CalDAV)
}
