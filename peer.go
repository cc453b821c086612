// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package drivesweep

import (
	"context"
	"strings"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"storj.io/drivesweep/action"
	"storj.io/drivesweep/dedupe"
	"storj.io/drivesweep/events"
	"storj.io/drivesweep/gateway"
	"storj.io/drivesweep/jobs"
	"storj.io/drivesweep/organize"
	"storj.io/drivesweep/scan"
	"storj.io/drivesweep/tokens"
)

// Error is the default drivesweep errs class.
var Error = errs.Class("drivesweep")

// OAuthConfig locates the token endpoint of the drive provider.
type OAuthConfig struct {
	ClientID     string `help:"oauth client id" default:""`
	ClientSecret string `help:"oauth client secret" default:""`
	AuthURL      string `help:"oauth authorization endpoint" default:"https://accounts.google.com/o/oauth2/auth"`
	TokenURL     string `help:"oauth token endpoint" default:"https://oauth2.googleapis.com/token"`
	RedirectURL  string `help:"oauth redirect url" default:""`
	Scopes       string `help:"comma-separated oauth scopes" default:"https://www.googleapis.com/auth/drive"`
}

// Config is the run configuration of the peer.
type Config struct {
	Database string `help:"database url or bolt file path" default:"drivesweep.db"`

	OAuth    OAuthConfig
	Tokens   tokens.Config
	Gateway  gateway.Config
	Scan     scan.Config
	Dedupe   dedupe.Config
	Organize organize.Config
	Action   action.Config
	Events   events.Config
}

// Peer is the assembled set of services.
//
// architecture: Peer
type Peer struct {
	Log *zap.Logger
	DB  DB

	Events struct {
		Bus *events.Bus
	}

	Jobs struct {
		Registry *jobs.Registry
	}

	Tokens struct {
		Store *tokens.Store
	}

	Gateway struct {
		Service *gateway.Service
	}

	Scan struct {
		Engine *scan.Engine
	}

	Dedupe struct {
		Detector *dedupe.Detector
	}

	Organize struct {
		Analyzer *organize.Analyzer
	}

	Action struct {
		Engine *action.Engine
	}
}

// New creates a peer from the master database, the remote drive
// driver, and an optional classification oracle.
func New(log *zap.Logger, db DB, driver gateway.Driver, oracle organize.Oracle, config Config) (*Peer, error) {
	peer := &Peer{
		Log: log,
		DB:  db,
	}

	{ // setup events
		peer.Events.Bus = events.NewBus(log.Named("events"), config.Events)
	}

	{ // setup jobs
		peer.Jobs.Registry = jobs.NewRegistry()
	}

	{ // setup tokens
		provider := tokens.NewOAuthProvider(oauth2.Config{
			ClientID:     config.OAuth.ClientID,
			ClientSecret: config.OAuth.ClientSecret,
			RedirectURL:  config.OAuth.RedirectURL,
			Scopes:       splitScopes(config.OAuth.Scopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:  config.OAuth.AuthURL,
				TokenURL: config.OAuth.TokenURL,
			},
		})
		store, err := tokens.NewStore(log.Named("tokens"), db.Credentials(), provider, config.Tokens)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		peer.Tokens.Store = store
	}

	{ // setup gateway
		peer.Gateway.Service = gateway.NewService(log.Named("gateway"), driver, peer.Tokens.Store, config.Gateway)
	}

	{ // setup scan
		peer.Scan.Engine = scan.NewEngine(log.Named("scan"), db.Scans(), db.Snapshots(),
			peer.Gateway.Service, peer.Events.Bus, peer.Jobs.Registry, config.Scan)
	}

	{ // setup dedupe
		peer.Dedupe.Detector = dedupe.NewDetector(log.Named("dedupe"),
			peer.Gateway.Service, db.Snapshots(), config.Dedupe)
	}

	{ // setup organize
		peer.Organize.Analyzer = organize.NewAnalyzer(log.Named("organize"),
			db.Snapshots(), oracle, config.Organize)
	}

	{ // setup action
		peer.Action.Engine = action.NewEngine(log.Named("action"), db.Batches(),
			peer.Gateway.Service, peer.Tokens.Store, peer.Events.Bus, peer.Jobs.Registry, config.Action)
	}

	return peer, nil
}

// Run runs the peer's background loops until the context is canceled.
func (peer *Peer) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return ignoreCancel(peer.Scan.Engine.Run(ctx))
	})
	return group.Wait()
}

// Close releases the peer's resources. The database is owned by the
// caller and closed separately.
func (peer *Peer) Close() error {
	return errs.Combine(
		peer.Events.Bus.Close(),
	)
}

func ignoreCancel(err error) error {
	if errs.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func splitScopes(scopes string) []string {
	var out []string
	for _, scope := range strings.Split(scopes, ",") {
		scope = strings.TrimSpace(scope)
		if scope != "" {
			out = append(out, scope)
		}
	}
	return out
}
