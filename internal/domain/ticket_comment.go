package domain

import "time"

// TicketComment is an append-only entry in a ticket's thread.
type TicketComment struct {
	ID         string
	TicketID   string
	AuthorID   string
	Content    string
	IsInternal bool
	CreatedAt  time.Time
}

// VisibleComments drops internal notes unless the reader is staff.
func VisibleComments(comments []TicketComment, staff bool) []TicketComment {
	if staff {
		return comments
	}
	filtered := make([]TicketComment, 0, len(comments))
	for _, comment := range comments {
		if comment.IsInternal {
			continue
		}
		filtered = append(filtered, comment)
	}
	return filtered
}
