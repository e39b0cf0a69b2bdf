// Package device defines the REV7/REV11 command line vocabulary.
//
// Commands are single ASCII lines accepted only after the device has
// printed its '>' prompt. Boot banners are used to tell the two device
// roles apart.
package device

import "strings"

const (
	// Prompt is printed by an idle device ready for a command.
	Prompt byte = '>'
	// PromptLine is the reply to a blank line once the CLI is up.
	PromptLine = ">\r\n"

	// BannerREV7 prefixes the power-on self test of the primary device.
	BannerREV7 = "OpenTRV: board V0.2 REV7"
	// BannerREV11 prefixes the power-on self test of the secondary device.
	BannerREV11 = "OpenTRV: board V0.2 REV11"

	// MinIDLength is the shortest acceptable identity token.
	MinIDLength = 20

	idStart = 4
	idEnd   = 27
)

// Commands.
const (
	CmdSetStartDelay   = "G 0 238"
	CmdQueryStartDelay = "G 0"
	CmdQueryID         = "I"
	CmdClearID         = "I *"
	CmdClearNodes      = "A *"
)

// AddNode registers id as a known node on the secondary device.
func AddNode(id string) string {
	return "A " + id
}

// SetKey returns the command line which sets key. Keys are normally stored
// as complete command lines (e.g. "K B 01 02 ...") and are sent unchanged.
func SetKey(key string) string {
	if strings.HasPrefix(key, "K ") {
		return key
	}
	return "K " + key
}

// Role is the role of a device as told by its boot banner.
type Role int

// Roles.
const (
	RoleUnknown Role = iota
	RoleREV7
	RoleREV11
)

func (r Role) String() string {
	switch r {
	case RoleREV7:
		return "REV7"
	case RoleREV11:
		return "REV11"
	}
	return "unknown"
}

// Classify returns the role whose banner prefixes line.
func Classify(line string) Role {
	switch {
	case strings.HasPrefix(line, BannerREV11):
		return RoleREV11
	case strings.HasPrefix(line, BannerREV7):
		return RoleREV7
	}
	return RoleUnknown
}

// ExtractID takes the identity window out of the second line of an I reply.
// Short lines yield a short (possibly empty) token.
func ExtractID(line string) string {
	if len(line) <= idStart {
		return ""
	}
	if len(line) < idEnd {
		return line[idStart:]
	}
	return line[idStart:idEnd]
}

// ValidID reports whether id is long enough to be an identity token.
func ValidID(id string) bool {
	return len(id) >= MinIDLength
}

// StripSpaces removes spaces, as the secondary device prints node ids
// without separators.
func StripSpaces(id string) string {
	return strings.Replace(id, " ", "", -1)
}

// EchoedValue drops the two byte line terminator from a reply line.
func EchoedValue(line string) string {
	if len(line) < 2 {
		return ""
	}
	return line[:len(line)-2]
}

// Redact hides key material in a command or reply line.
func Redact(line string) string {
	if strings.HasPrefix(line, "K ") {
		return "K <redacted>"
	}
	return line
}
