// Copyright 2018-2023 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package notify sends emails to reviewers and creators
// when versions move through the review workflow.
package notify

import (
	"context"
	"strconv"
	"strings"
	"text/template"

	"github.com/cs3org/sweettooth/internal/model"
	"github.com/rs/zerolog"
)

// Config holds the configuration of the dispatcher.
type Config struct {
	Sender   string `mapstructure:"sender"`
	SiteName string `mapstructure:"site_name"`
	SiteURL  string `mapstructure:"site_url"`
}

// ApplyDefaults sets the defaults for the missing values.
func (c *Config) ApplyDefaults() {
	if c.Sender == "" {
		c.Sender = "noreply@localhost"
	}
	if c.SiteName == "" {
		c.SiteName = "GNOME Shell Extensions"
	}
	c.SiteURL = strings.TrimRight(c.SiteURL, "/")
}

// Reviewers lists the users holding the review authorization.
type Reviewers interface {
	ListReviewers(ctx context.Context) ([]*model.User, error)
}

// Dispatcher renders the notification of the workflow
// transitions and hands them off to a Mailer.
// Failures are logged and never reported to the caller.
type Dispatcher struct {
	c         *Config
	mailer    Mailer
	reviewers Reviewers
}

// New creates a Dispatcher.
func New(c *Config, mailer Mailer, reviewers Reviewers) *Dispatcher {
	c.ApplyDefaults()
	return &Dispatcher{c: c, mailer: mailer, reviewers: reviewers}
}

type templateData struct {
	Site    string
	Name    string
	Version int
	Creator string
	URL     string
}

var (
	submittedSubject = template.Must(template.New("submitted_subject").Parse(
		`{{ .Site }} - New review request: "{{ .Name }}", v{{ .Version }}`))
	submittedBody = template.Must(template.New("submitted_body").Parse(
		`A new extension version, "{{ .Name }}", version {{ .Version }} has been submitted for review by {{ .Creator }}.

Review the extension at {{ .URL }}

--

This email was sent automatically by {{ .Site }}. Do not reply.`))

	reviewedSubject = template.Must(template.New("reviewed_subject").Parse(
		`{{ .Site }} - Your extension, "{{ .Name }}", v{{ .Version }} has been reviewed.`))
	reviewedBody = template.Must(template.New("reviewed_body").Parse(
		`Your extension, "{{ .Name }}", version {{ .Version }} has been reviewed. You can see the review here:

{{ .URL }}

Please use the review page to follow up with any comments or concerns.`))
)

func render(t *template.Template, data *templateData) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (d *Dispatcher) data(version *model.ExtensionVersion) *templateData {
	data := &templateData{
		Site:    d.c.SiteName,
		Version: version.Version,
		URL:     d.c.SiteURL + "/versions/" + strconv.FormatUint(uint64(version.ID), 10),
	}
	if version.Extension != nil {
		data.Name = version.Extension.Name
		data.Creator = version.Extension.Creator.Username
	}
	return data
}

func (d *Dispatcher) message(subject, body *template.Template, version *model.ExtensionVersion, to []string) (*Message, error) {
	data := d.data(version)
	s, err := render(subject, data)
	if err != nil {
		return nil, err
	}
	b, err := render(body, data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Subject: s,
		Body:    b,
		From:    d.c.Sender,
		To:      to,
	}, nil
}

func (d *Dispatcher) send(ctx context.Context, msg *Message) {
	log := zerolog.Ctx(ctx)
	if err := d.mailer.Send(ctx, msg); err != nil {
		log.Error().Err(err).Strs("to", msg.To).Str("subject", msg.Subject).Msg("error sending email")
		return
	}
	log.Debug().Strs("to", msg.To).Str("subject", msg.Subject).Msg("email sent")
}

// SubmittedForReview notifies all the reviewers that
// a version has been submitted for review.
func (d *Dispatcher) SubmittedForReview(ctx context.Context, version *model.ExtensionVersion, actor *model.User) {
	log := zerolog.Ctx(ctx)

	reviewers, err := d.reviewers.ListReviewers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("error listing reviewers")
		return
	}
	to := make([]string, 0, len(reviewers))
	for _, r := range reviewers {
		if r.Email != "" {
			to = append(to, r.Email)
		}
	}
	if len(to) == 0 {
		log.Warn().Uint("version", version.ID).Msg("no reviewer to notify")
		return
	}

	msg, err := d.message(submittedSubject, submittedBody, version, to)
	if err != nil {
		log.Error().Err(err).Msg("error rendering email")
		return
	}
	d.send(ctx, msg)
}

// Reviewed notifies the creator of a version that it has been
// reviewed. Nothing is sent when the actor is the creator.
func (d *Dispatcher) Reviewed(ctx context.Context, version *model.ExtensionVersion, actor *model.User) {
	log := zerolog.Ctx(ctx)
	if version.Extension == nil {
		log.Error().Uint("version", version.ID).Msg("extension of version not loaded")
		return
	}

	creator := version.Extension.Creator
	if actor != nil && actor.ID == version.Extension.CreatorID {
		return
	}
	if creator.Email == "" {
		log.Warn().Str("user", creator.Username).Msg("creator has no email address")
		return
	}

	msg, err := d.message(reviewedSubject, reviewedBody, version, []string{creator.Email})
	if err != nil {
		log.Error().Err(err).Msg("error rendering email")
		return
	}
	d.send(ctx, msg)
}
