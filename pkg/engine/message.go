package engine

// MessageType classifies bus messages
type MessageType int

const (
	MessageUnknown MessageType = iota
	MessageTag
	MessageError
	MessageElement
	MessageStateChanged
	MessageEOS
	MessageRedirect
)

func (t MessageType) String() string {
	switch t {
	case MessageTag:
		return "tag"
	case MessageError:
		return "error"
	case MessageElement:
		return "element"
	case MessageStateChanged:
		return "state-changed"
	case MessageEOS:
		return "eos"
	case MessageRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Message is one out-of-band notification posted on a graph's bus.
// Only the fields relevant to the Type are populated.
type Message struct {
	Type   MessageType
	Origin string // name of the posting element

	// MessageTag
	Tags map[string]string

	// MessageError
	ErrorMessage string
	ErrorDomain  int
	ErrorCode    int

	// MessageStateChanged
	OldState State
	NewState State

	// MessageRedirect
	RedirectURI string

	// MessageElement; element-specific payload
	Structure map[string]interface{}
}

// Well-known tag keys. The vocabulary beyond these is opaque to the
// pipeline; unrecognized keys are passed through untouched.
const (
	TagTitle   = "title"
	TagArtist  = "artist"
	TagAlbum   = "album"
	TagComment = "comment"
	TagGenre   = "genre"
	TagBitrate = "bitrate"
	TagLength  = "length"
	TagTrack   = "track-number"
)
