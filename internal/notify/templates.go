package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

var (
	approvalNeededTmpl = template.Must(template.New("approval_needed").Parse(
		`<p>Hello {{.ApproverName}},</p>
<p>{{.RequestorName}} submitted request <strong>{{.Number}}</strong>{{if .Type}} ({{.Type}}){{end}} and it needs your approval at level {{.Level}}.</p>
<p><a href="{{.Link}}">Review the request</a></p>`))

	requestDecisionTmpl = template.Must(template.New("request_decision").Parse(
		`<p>Hello {{.RequestorName}},</p>
<p>Your request <strong>{{.Number}}</strong> was <strong>{{.Decision}}</strong> by {{.ApproverName}}.</p>
{{if .Comments}}<p>Comments: {{.Comments}}</p>{{end}}
<p>Current status: {{.Status}}</p>
<p><a href="{{.Link}}">View the request</a></p>`))

	ticketCreatedTmpl = template.Must(template.New("ticket_created").Parse(
		`<p>Hello {{.CreatorName}},</p>
<p>Your ticket <strong>{{.Number}}</strong> "{{.Subject}}" was created with priority {{.Priority}}.</p>
<p>We aim to respond by {{.Deadline}}.</p>
<p><a href="{{.Link}}">Track the ticket</a></p>`))

	ticketStatusTmpl = template.Must(template.New("ticket_status").Parse(
		`<p>Hello {{.CreatorName}},</p>
<p>Ticket <strong>{{.Number}}</strong> "{{.Subject}}" moved from {{.OldStatus}} to <strong>{{.NewStatus}}</strong>.</p>
<p><a href="{{.Link}}">View the ticket</a></p>`))
)

// ApprovalNeeded is the data for the approver notification.
type ApprovalNeeded struct {
	To            string
	ApproverName  string
	RequestorName string
	Number        string
	Type          string
	Level         int
	Link          string
}

// RequestDecision is the data for the requestor outcome notification.
type RequestDecision struct {
	To            string
	RequestorName string
	ApproverName  string
	Number        string
	Decision      string
	Comments      string
	Status        string
	Link          string
}

// TicketCreated is the data for the creation confirmation.
type TicketCreated struct {
	To          string
	CreatorName string
	Number      string
	Subject     string
	Priority    string
	Deadline    string
	Link        string
}

// TicketStatusChanged is the data for the status update notification.
type TicketStatusChanged struct {
	To          string
	CreatorName string
	Number      string
	Subject     string
	OldStatus   string
	NewStatus   string
	Link        string
}

// RenderApprovalNeeded renders the approver notification.
func RenderApprovalNeeded(data ApprovalNeeded) (Message, error) {
	subject := fmt.Sprintf("Approval needed: %s (%s) from %s", data.Number, data.Type, data.RequestorName)
	return render(data.To, subject, approvalNeededTmpl, data)
}

// RenderRequestDecision renders the requestor outcome notification.
func RenderRequestDecision(data RequestDecision) (Message, error) {
	subject := fmt.Sprintf("Request %s %s", data.Number, data.Decision)
	return render(data.To, subject, requestDecisionTmpl, data)
}

// RenderTicketCreated renders the creation confirmation.
func RenderTicketCreated(data TicketCreated) (Message, error) {
	subject := fmt.Sprintf("Ticket %s created: %s", data.Number, data.Subject)
	return render(data.To, subject, ticketCreatedTmpl, data)
}

// RenderTicketStatusChanged renders the status update notification.
func RenderTicketStatusChanged(data TicketStatusChanged) (Message, error) {
	subject := fmt.Sprintf("Ticket %s is now %s", data.Number, data.NewStatus)
	return render(data.To, subject, ticketStatusTmpl, data)
}

func render(to, subject string, tmpl *template.Template, data any) (Message, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return Message{To: to, Subject: subject, HTML: buf.String()}, nil
}
