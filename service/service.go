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

package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"os"
	"time"

	"github.com/cs3org/sweettooth/internal/auth"
	"github.com/cs3org/sweettooth/internal/crud"
	"github.com/cs3org/sweettooth/internal/featured"
	"github.com/cs3org/sweettooth/internal/notify"
	"github.com/cs3org/sweettooth/internal/review"
	"github.com/cs3org/sweettooth/internal/storage"
	"github.com/cs3org/sweettooth/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Service serves the extensions site.
type Service struct {
	router   *chi.Mux
	c        *Config
	repo     crud.Repository
	storage  *storage.Storage
	workflow *workflow.Workflow
	review   *review.Service
	tokens   *auth.Manager
	featured *featured.Syncer
}

// Config holds the configuration of the service.
type Config struct {
	DB            crud.Config       `mapstructure:"db"`
	StorageRoot   string            `mapstructure:"storage_root"`
	Notify        notify.Config     `mapstructure:"notify"`
	Mail          notify.MailConfig `mapstructure:"mail"`
	JWTSecret     string            `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration     `mapstructure:"token_ttl"`
	MaxUploadSize int64             `mapstructure:"max_upload_size"`
	Featured      featured.Config   `mapstructure:"featured"`

	tmpDB      bool
	tmpStorage bool
}

// ApplyDefaults sets the defaults for the missing values.
func (c *Config) ApplyDefaults() {
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Driver == "sqlite" && c.DB.DSN == "" {
		tmp, err := os.CreateTemp("", "sweettooth-*.db")
		if err != nil {
			panic(err)
		}
		tmp.Close()
		c.DB.DSN = tmp.Name()
		c.tmpDB = true
	}

	if c.StorageRoot == "" {
		var err error
		c.StorageRoot, err = os.MkdirTemp("", "sweettooth-*")
		if err != nil {
			panic(err)
		}
		c.tmpStorage = true
	}

	if c.JWTSecret == "" {
		// tokens will not survive a restart
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			panic(err)
		}
		c.JWTSecret = hex.EncodeToString(b)
	}

	if c.TokenTTL == 0 {
		c.TokenTTL = 30 * 24 * time.Hour
	}

	if c.MaxUploadSize == 0 {
		c.MaxUploadSize = 10 << 20
	}

	c.Notify.ApplyDefaults()
}

// New creates the service.
func New(c *Config) (*Service, error) {
	c.ApplyDefaults()

	repo, err := crud.New(&c.DB)
	if err != nil {
		return nil, err
	}
	st, err := storage.NewLocal(c.StorageRoot)
	if err != nil {
		repo.Close()
		return nil, err
	}
	mailer, err := notify.NewMailer(&c.Mail)
	if err != nil {
		repo.Close()
		return nil, err
	}
	tokens, err := auth.NewManager(c.JWTSecret, c.TokenTTL)
	if err != nil {
		repo.Close()
		return nil, err
	}

	s := &Service{
		router:   chi.NewRouter(),
		c:        c,
		repo:     repo,
		storage:  st,
		workflow: workflow.New(repo, st),
		review:   review.New(repo, st, notify.New(&c.Notify, mailer, repo)),
		tokens:   tokens,
	}
	if c.Featured.Repository != "" {
		s.featured, err = featured.New(&c.Featured, repo)
		if err != nil {
			repo.Close()
			return nil, err
		}
	}
	s.initRouter()
	return s, nil
}

func (s *Service) initRouter() {
	s.router.Use(s.authenticate)

	s.router.Post("/upload", s.upload)
	s.router.Route("/extensions/{id}", func(r chi.Router) {
		r.Get("/", s.getExtension)
		r.Post("/upload", s.upload)
		r.Post("/edit", s.editExtension)
		r.Get("/errorreports", s.listErrorReports)
	})
	s.router.Route("/versions/{id}", func(r chi.Router) {
		r.Get("/", s.getVersion)
		r.Get("/files", s.listFiles)
		r.Post("/lock", s.lockVersion)
		r.Post("/status", s.changeStatus)
		r.Get("/reviews", s.getReviews)
		r.Post("/reviews", s.submitReview)
		r.Get("/log", s.statusLog)
	})
	s.router.Get("/review", s.reviewQueue)

	s.router.Get("/download/{uuid}", s.shellDownload)
	s.router.Post("/update", s.shellUpdate)
	s.router.Get("/extension-info", s.extensionInfo)
	s.router.Get("/extension-query", s.extensionQuery)

	s.router.Post("/errorreports", s.reportError)
}

// Start runs the background jobs of the service,
// until the context is done.
func (s *Service) Start(ctx context.Context) {
	if s.featured == nil {
		zerolog.Ctx(ctx).Debug().Msg("featured repository not configured")
		return
	}
	go s.featured.Run(ctx)
}

// Repository returns the store of the service.
func (s *Service) Repository() crud.Repository { return s.repo }

// Tokens returns the manager of the bearer tokens.
func (s *Service) Tokens() *auth.Manager { return s.tokens }

func (s *Service) Handler() http.Handler { return s.router }

func (s *Service) Close() error {
	err := s.repo.Close()
	if s.c.tmpDB {
		os.RemoveAll(s.c.DB.DSN)
	}
	if s.c.tmpStorage {
		os.RemoveAll(s.c.StorageRoot)
	}
	return err
}
