package valueobject

// MessageContent is an immutable value object holding message content.
type MessageContent struct {
	text        string
	contentType ContentType
	attachments []Attachment
}

// ContentType is the kind of content carried by a message.
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypeAudio ContentType = "audio"
	ContentTypeVideo ContentType = "video"
	ContentTypeFile  ContentType = "file"
)

// Attachment is a single message attachment.
type Attachment struct {
	URL      string
	MimeType string
	Size     int64
}

// NewMessageContent creates a MessageContent with no attachments.
func NewMessageContent(text string, contentType ContentType) MessageContent {
	return MessageContent{
		text:        text,
		contentType: contentType,
		attachments: make([]Attachment, 0),
	}
}

// NewMessageContentWithAttachments creates a MessageContent with attachments.
func NewMessageContentWithAttachments(text string, contentType ContentType, attachments []Attachment) MessageContent {
	// Value objects are immutable; copy the slice.
	atts := make([]Attachment, len(attachments))
	copy(atts, attachments)

	return MessageContent{
		text:        text,
		contentType: contentType,
		attachments: atts,
	}
}

// Text returns the text content.
func (mc MessageContent) Text() string {
	return mc.text
}

// ContentType returns the content type.
func (mc MessageContent) ContentType() ContentType {
	return mc.contentType
}

// Attachments returns a copy of the attachment list.
func (mc MessageContent) Attachments() []Attachment {
	atts := make([]Attachment, len(mc.attachments))
	copy(atts, mc.attachments)
	return atts
}

// HasAttachments reports whether the content carries any attachments.
func (mc MessageContent) HasAttachments() bool {
	return len(mc.attachments) > 0
}

// IsTextOnly reports whether the content is plain text with no attachments.
func (mc MessageContent) IsTextOnly() bool {
	return mc.contentType == ContentTypeText && !mc.HasAttachments()
}

// Equals compares two MessageContent values for equality.
func (mc MessageContent) Equals(other MessageContent) bool {
	if mc.text != other.text || mc.contentType != other.contentType {
		return false
	}

	if len(mc.attachments) != len(other.attachments) {
		return false
	}

	for i, att := range mc.attachments {
		if att != other.attachments[i] {
			return false
		}
	}

	return true
}
