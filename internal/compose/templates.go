package compose

import (
	"os"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

const (
	defaultInitialSubject  = "Question for {{.ClinicName}}"
	defaultFollowUpSubject = "Following up: Helping {{.ClinicName}}"
	defaultBody            = `{{.Opening}}

I'm reaching out because we help clinics like {{.ClinicName}} streamline their patient onboarding process. I noticed your website and thought our solution could be a great fit.

Would you be open to a 5-minute chat next week?

Best regards,
{{.SenderName}}`
)

// Templates holds the text/template sources for outgoing email. Empty
// fields fall back to the built-in defaults.
type Templates struct {
	InitialSubject  string `yaml:"initial_subject"`
	FollowUpSubject string `yaml:"follow_up_subject"`
	Body            string `yaml:"body"`
}

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() Templates {
	return Templates{
		InitialSubject:  defaultInitialSubject,
		FollowUpSubject: defaultFollowUpSubject,
		Body:            defaultBody,
	}
}

// LoadTemplates reads template overrides from a YAML file. An empty path
// returns the defaults.
func LoadTemplates(path string) (Templates, error) {
	t := DefaultTemplates()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return t, eris.Wrapf(err, "compose: read templates %s", path)
	}

	var override Templates
	if err := yaml.Unmarshal(data, &override); err != nil {
		return t, eris.Wrapf(err, "compose: parse templates %s", path)
	}
	return t.merge(override), nil
}

func (t Templates) merge(o Templates) Templates {
	if strings.TrimSpace(o.InitialSubject) != "" {
		t.InitialSubject = o.InitialSubject
	}
	if strings.TrimSpace(o.FollowUpSubject) != "" {
		t.FollowUpSubject = o.FollowUpSubject
	}
	if strings.TrimSpace(o.Body) != "" {
		t.Body = o.Body
	}
	return t
}

// templateData is the value every template executes against.
type templateData struct {
	Name       string
	Greeting   string
	ClinicName string
	Website    string
	Opening    string
	SenderName string
}

type parsedTemplates struct {
	initialSubject  *template.Template
	followUpSubject *template.Template
	body            *template.Template
}

// parse compiles the templates and dry-runs them so malformed overrides
// fail at startup instead of mid-send.
func (t Templates) parse() (*parsedTemplates, error) {
	var (
		p   parsedTemplates
		err error
	)
	if p.initialSubject, err = template.New("initial_subject").Option("missingkey=error").Parse(t.InitialSubject); err != nil {
		return nil, eris.Wrap(err, "compose: parse initial_subject")
	}
	if p.followUpSubject, err = template.New("follow_up_subject").Option("missingkey=error").Parse(t.FollowUpSubject); err != nil {
		return nil, eris.Wrap(err, "compose: parse follow_up_subject")
	}
	if p.body, err = template.New("body").Option("missingkey=error").Parse(t.Body); err != nil {
		return nil, eris.Wrap(err, "compose: parse body")
	}

	sample := templateData{Name: "Sam", Greeting: "Sam", ClinicName: "Sample Clinic", Opening: "Hi Sam.", SenderName: "Sender"}
	for _, tmpl := range []*template.Template{p.initialSubject, p.followUpSubject, p.body} {
		if _, err := execute(tmpl, sample); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func execute(tmpl *template.Template, data templateData) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", eris.Wrapf(err, "compose: execute %s", tmpl.Name())
	}
	return b.String(), nil
}
