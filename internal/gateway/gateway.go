// Package gateway wires every subsystem of the Custard control plane into
// one composite context, and owns the ordered startup/shutdown sequence:
// validate external dependencies reachable, construct every component,
// then on shutdown stop accepting new work, close Agent Sessions with
// "shutdown", fail Pending Requests, close Status subscribers, and release
// CSV Sessions — in that order.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/custard/gateway/internal/auth"
	"github.com/custard/gateway/internal/blobstore"
	"github.com/custard/gateway/internal/cache"
	"github.com/custard/gateway/internal/config"
	"github.com/custard/gateway/internal/correlator"
	"github.com/custard/gateway/internal/csvpool"
	"github.com/custard/gateway/internal/db"
	"github.com/custard/gateway/internal/events"
	"github.com/custard/gateway/internal/llm"
	"github.com/custard/gateway/internal/logger"
	"github.com/custard/gateway/internal/models"
	"github.com/custard/gateway/internal/orchestrator"
	"github.com/custard/gateway/internal/registry"
	"github.com/custard/gateway/internal/schemacache"
	"github.com/custard/gateway/internal/statusfanout"
)

// fanOutEventBufferSize sizes the channel feeding the Status Fan-out, whose
// delivery contract is best-effort and never-blocking.
const fanOutEventBufferSize = 256

// registryMirrorTTL bounds how long a crashed pod's published snapshot
// lingers in Redis before other pods stop considering its agents live.
const registryMirrorTTL = 30 * time.Second

// Gateway is the fully wired set of components behind one running
// gatewayd process.
type Gateway struct {
	Config *config.Config

	DB          *db.Database
	Connections *db.ConnectionDB
	Files       *db.FileMetadataDB
	RedisMirror *cache.RegistryMirror
	EventBus    *events.Bus
	UIVerifier  *auth.UIVerifier
	LLM         *llm.Client
	Blobstore   *blobstore.Client

	Registry     *registry.Registry
	Correlator   *correlator.Correlator
	SchemaCache  *schemacache.Cache
	StatusFanOut *statusfanout.FanOut
	CSVPool      *csvpool.Pool
	Orchestrator *orchestrator.Orchestrator
	Authenticator *connectionAuthenticator

	fanOutEvents chan registry.Event
}

// connectionAuthenticator adapts *db.ConnectionDB + auth.CompareAgentKey
// into agentws.Authenticator, so the Agent Session Endpoint's handshake
// never touches bcrypt or SQL directly.
type connectionAuthenticator struct {
	connections *db.ConnectionDB
}

func (a *connectionAuthenticator) AuthenticateAgent(ctx context.Context, agentID, agentKey string) (string, bool, error) {
	conn, err := a.connections.GetByAgentID(ctx, agentID)
	if err != nil {
		return "", false, fmt.Errorf("lookup connection by agent id: %w", err)
	}
	if conn == nil {
		return "", false, nil
	}
	if !auth.CompareAgentKey(agentKey, conn.AgentKeyHash) {
		return "", false, nil
	}
	return conn.ConnectionID, true, nil
}

// fileBlobFetcher adapts *db.FileMetadataDB + *blobstore.Client into
// csvpool.BlobFetcher: the pool keys sessions by file_id, but the blob
// store is keyed by the (separate, unguessable) blob_key recorded on the
// FileMetadata row at upload time.
type fileBlobFetcher struct {
	files *db.FileMetadataDB
	blobs *blobstore.Client
}

func (f *fileBlobFetcher) FetchCSV(ctx context.Context, fileID string) ([]byte, int64, error) {
	meta, err := f.files.Get(ctx, fileID)
	if err != nil {
		return nil, 0, fmt.Errorf("lookup file metadata: %w", err)
	}
	if meta == nil {
		return nil, 0, fmt.Errorf("file %s not found", fileID)
	}
	return f.blobs.FetchCSV(ctx, meta.BlobKey)
}

// schemaWriter adapts *schemacache.Cache into agentws.SchemaWriter.
type schemaWriter struct {
	cache *schemacache.Cache
}

func (w *schemaWriter) OnSchemaRefreshed(connectionID string, snapshot models.SchemaSnapshot) {
	w.cache.Put(connectionID, snapshot)
}

// registryResolver adapts *registry.Registry into correlator.Resolver.
// The two packages each declare their own narrow Session interface to
// avoid an import cycle, so a direct method-value assignment doesn't
// type-check even though the method sets are identical; this adapter
// performs the (structurally safe) conversion at the call site instead.
type registryResolver struct {
	reg *registry.Registry
}

func (a *registryResolver) Lookup(agentID string) (correlator.Session, bool) {
	return a.reg.Lookup(agentID)
}

// New validates every external dependency the gateway needs and constructs
// every component. Any failure here is fatal: the caller should exit
// non-zero rather than serve traffic against a half-wired gateway.
func New(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	log := logger.GetLogger()

	log.Info().Msg("connecting to database")
	database, err := db.NewDatabase(db.Config{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		DBName:   cfg.DB.Name,
		SSLMode:  cfg.DB.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	connections := db.NewConnectionDB(database.DB())
	files := db.NewFileMetadataDB(database.DB())

	log.Info().Bool("enabled", cfg.Redis.Enabled).Msg("initializing redis registry mirror")
	redisMirror, err := cache.NewRegistryMirror(cache.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		Enabled:  cfg.Redis.Enabled,
	}, cfg.PodID)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("initialize redis registry mirror: %w", err)
	}

	log.Info().Bool("configured", cfg.NATS.URL != "").Msg("initializing registry event bus")
	eventBus, err := events.NewBus(events.Config{
		URL:      cfg.NATS.URL,
		User:     cfg.NATS.User,
		Password: cfg.NATS.Password,
	}, cfg.PodID)
	if err != nil {
		redisMirror.Close()
		database.Close()
		return nil, fmt.Errorf("initialize registry event bus: %w", err)
	}

	log.Info().Msg("verifying OIDC provider reachability")
	uiVerifier, err := auth.NewUIVerifier(ctx, cfg.OIDC.ProviderURL, cfg.OIDC.ClientID)
	if err != nil {
		eventBus.Close()
		redisMirror.Close()
		database.Close()
		return nil, fmt.Errorf("initialize UI session verifier: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		eventBus.Close()
		redisMirror.Close()
		database.Close()
		return nil, fmt.Errorf("LLM credentials missing")
	}
	llmClient := llm.New(cfg.LLM.Model)

	if cfg.Blobstore.AccessKey == "" || cfg.Blobstore.SecretKey == "" {
		eventBus.Close()
		redisMirror.Close()
		database.Close()
		return nil, fmt.Errorf("blob-store credentials missing")
	}
	blobClient := blobstore.New(blobstore.Config{
		Endpoint:  cfg.Blobstore.Endpoint,
		AccessKey: cfg.Blobstore.AccessKey,
		SecretKey: cfg.Blobstore.SecretKey,
		Bucket:    cfg.Blobstore.Bucket,
	})

	// Breaking the Registry/Correlator construction cycle: the Registry
	// needs the Correlator as its PendingFailer at construction, but the
	// Correlator needs the Registry as its Resolver. Construct the
	// Correlator with a nil resolver, build the Registry against it, then
	// bind the resolver once the Registry exists.
	corr := correlator.New(nil)
	registryOutbox := make(chan registry.Event, fanOutEventBufferSize)
	reg := registry.New(corr, registryOutbox)
	corr.BindResolver(&registryResolver{reg: reg})

	schemas := schemacache.New()

	// fanOutEvents is what the Status Fan-out actually consumes. Local
	// Registry events and remote (other-pod) events delivered over NATS
	// are both relayed onto it, so a subscriber on any pod sees every
	// pod's attach/detach traffic.
	fanOutEvents := make(chan registry.Event, fanOutEventBufferSize)
	fanOut := statusfanout.New(reg, connections, fanOutEvents)

	go relayRegistryEvents(registryOutbox, fanOutEvents, eventBus, log)
	if redisMirror.Enabled() {
		go publishRegistrySnapshots(reg, redisMirror, log)
	}

	if err := eventBus.Subscribe(func(ev registry.Event) {
		select {
		case fanOutEvents <- ev:
		default:
			log.Warn().Str("agent_id", ev.AgentID).Msg("fan-out event channel full, dropping remote registry event")
		}
	}); err != nil {
		log.Warn().Err(err).Msg("registry event bus subscribe failed, continuing single-pod")
	}

	pool := csvpool.New(csvpool.Caps{
		PerFileSourceBytes: cfg.CSVPool.PerFileSourceBytes,
		PerFileFootprint:   cfg.CSVPool.PerFileFootprint,
		AggregateFootprint: cfg.CSVPool.AggregateFootprint,
	}, &fileBlobFetcher{files: files, blobs: blobClient})

	// No CSV analytic backend is wired in by default: it is an external,
	// interface-only collaborator with no reference implementation
	// available to this deployment. csv_analytic routing returns a
	// no_data_source AppError until a deployment supplies one.
	orch := orchestrator.New(corr, schemas, pool, llmClient, nil)

	return &Gateway{
		Config:        cfg,
		DB:            database,
		Connections:   connections,
		Files:         files,
		RedisMirror:   redisMirror,
		EventBus:      eventBus,
		UIVerifier:    uiVerifier,
		LLM:           llmClient,
		Blobstore:     blobClient,
		Registry:      reg,
		Correlator:    corr,
		SchemaCache:   schemas,
		StatusFanOut:  fanOut,
		CSVPool:       pool,
		Orchestrator:  orch,
		Authenticator: &connectionAuthenticator{connections: connections},
		fanOutEvents:  fanOutEvents,
	}, nil
}

// SchemaWriter returns the agentws.SchemaWriter adapter bound to this
// Gateway's Schema Cache.
func (g *Gateway) SchemaWriter() *schemaWriter {
	return &schemaWriter{cache: g.SchemaCache}
}

// relayRegistryEvents forwards every locally-produced Registry event to
// both the local Status Fan-out and (if enabled) the cross-pod NATS bus.
// The periodic republish of the Registry's live-agent snapshot to Redis
// is done separately, by publishRegistrySnapshots.
func relayRegistryEvents(in <-chan registry.Event, out chan<- registry.Event, bus *events.Bus, log *zerolog.Logger) {
	for ev := range in {
		select {
		case out <- ev:
		default:
		}
		_ = bus.Publish(ev)
	}
}

// publishRegistrySnapshots republishes this pod's live-agent_id set to the
// Redis mirror every third of registryMirrorTTL, so a reader never sees a
// gap longer than that between a real attach/detach and the mirror
// reflecting it, while a crashed pod's last-published set still expires.
func publishRegistrySnapshots(reg *registry.Registry, mirror *cache.RegistryMirror, log *zerolog.Logger) {
	ticker := time.NewTicker(registryMirrorTTL / 3)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := mirror.PublishSnapshot(ctx, reg.Snapshot(), registryMirrorTTL)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("failed to publish registry snapshot to redis")
		}
	}
}

// Shutdown runs the gateway's ordered teardown. Ceasing to accept new
// agent sessions is the HTTP server's job (see cmd/gatewayd), so by the
// time Shutdown runs, only in-flight state remains to retire.
func (g *Gateway) Shutdown(ctx context.Context) {
	log := logger.GetLogger()

	log.Info().Msg("closing agent sessions and failing outstanding pending requests")
	g.Registry.Shutdown()

	log.Info().Msg("closing status subscribers")
	g.StatusFanOut.Shutdown()

	log.Info().Msg("releasing csv sessions")
	g.CSVPool.ReleaseAll()

	if g.RedisMirror.Enabled() {
		clearCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := g.RedisMirror.Clear(clearCtx); err != nil {
			log.Warn().Err(err).Msg("failed to clear redis registry mirror on shutdown")
		}
	}

	g.EventBus.Close()
	if err := g.RedisMirror.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing redis registry mirror")
	}
	if err := g.DB.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing database")
	}
}
