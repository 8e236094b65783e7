package mailer

import (
	"bytes"
	"fmt"
	"html/template"
)

var templates = template.Must(template.New("mail").Parse(`
{{define "invitation"}}<p>Bonjour,</p>
<p>{{.Practitioner}} vous invite à donner votre avis sur votre dernière consultation.</p>
<p><a href="{{.Link}}">Répondre au questionnaire</a></p>
<p>Ce lien expire automatiquement.</p>{{end}}

{{define "welcome"}}<p>Bienvenue {{.Name}},</p>
<p>Votre espace est prêt. Vous pouvez envoyer votre premier questionnaire dès maintenant.</p>
<p><a href="{{.Link}}">Accéder au tableau de bord</a></p>{{end}}

{{define "referral"}}<p>Bonjour,</p>
<p>{{.Referrer}} vous recommande notre outil de questionnaires de satisfaction.</p>
<p><a href="{{.Link}}">Créer un compte</a></p>{{end}}

{{define "admin"}}<p>{{.Event}}</p>
<ul>{{range .Fields}}<li>{{.}}</li>{{end}}</ul>{{end}}
`))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Invitation is the email a patient receives with their questionnaire link
func Invitation(practitioner, link string) (subject, html string, err error) {
	html, err = render("invitation", map[string]string{"Practitioner": practitioner, "Link": link})
	return "Votre avis sur votre consultation", html, err
}

func Welcome(name, link string) (subject, html string, err error) {
	html, err = render("welcome", map[string]string{"Name": name, "Link": link})
	return "Bienvenue", html, err
}

func Referral(referrer, link string) (subject, html string, err error) {
	html, err = render("referral", map[string]string{"Referrer": referrer, "Link": link})
	return referrer + " vous recommande un outil", html, err
}

// AdminNotice is sent to the operator mailbox. Fields must not contain patient data.
func AdminNotice(event string, fields []string) (subject, html string, err error) {
	html, err = render("admin", map[string]any{"Event": event, "Fields": fields})
	return "[admin] " + event, html, err
}
