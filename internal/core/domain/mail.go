package domain

// EmailMessage is a plain-text outbound message.
type EmailMessage struct {
	To      string
	Subject string
	Body    string
}
