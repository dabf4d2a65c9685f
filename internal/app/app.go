package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/libs/db"
	libredis "github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/libs/redis"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/config"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/evse"
	httpserver "github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/http"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/http/handlers"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/idmap"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/redisstore"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/remote"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/repository"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/station"
	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/ws"
)

// App wires fleet-service dependencies.
type App struct {
	server      *httpserver.Server
	proxy       *station.Proxy
	hub         *ws.Hub
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	var (
		sqlDB       *sql.DB
		redisClient *redis.Client
		sessionRepo *repository.SessionRepository
		activeStore *redisstore.Store
		err         error
	)

	if cfg.Database.DSN != "" {
		sqlDB, err = libdb.NewPostgresDB(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		sessionRepo = repository.NewSessionRepository(sqlDB)
	}

	if cfg.Redis.Addr != "" {
		redisClient, err = libredis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			closeDB(sqlDB, logger)
			return nil, err
		}
		activeStore = redisstore.NewStore(redisClient, cfg.ActiveSessionTTL())
	}

	hub := ws.NewHub(30*time.Second, logger)
	sink := evse.MultiSink{
		ws.NewBroadcaster(hub, logger),
		newRecorder(sessionRepo, activeStore, logger),
	}

	ids := idmap.New()
	pairs, err := cfg.IDMappingPairs()
	if err != nil {
		closeRedis(redisClient, logger)
		closeDB(sqlDB, logger)
		return nil, err
	}
	for local, remoteID := range pairs {
		ids.Register(local, remoteID)
	}

	var (
		protocol  remote.ProtocolClient
		whitelist station.AuthListSource
	)
	if cfg.Remote.BaseURL != "" {
		client := remote.NewClient(remote.ClientConfig{
			BaseURL:         cfg.Remote.BaseURL,
			Username:        cfg.Remote.Username,
			Password:        cfg.Remote.Password,
			RemoteStationID: cfg.Remote.StationID,
			EVSEIDPrefix:    cfg.Remote.EVSEIDPrefix,
			WhitelistID:     cfg.Remote.WhitelistID,
			RequestTimeout:  cfg.Remote.RequestTimeout,
			ReserveTimeout:  cfg.Remote.ReserveTimeout,
			StartTimeout:    cfg.Remote.StartTimeout,
			StopTimeout:     cfg.Remote.StopTimeout,
			StatusTimeout:   cfg.Remote.StatusTimeout,
		}, ids, logger)
		protocol = client
		if cfg.Remote.WhitelistID != "" {
			whitelist = client
		}
	}

	proxy := station.NewProxy(station.Config{
		ID:                         models.StationID(cfg.Station.ID),
		OperatorID:                 models.OperatorID(cfg.Station.OperatorID),
		SelfCheckEvery:             cfg.Station.SelfCheckEvery,
		ReservationSelfCancelAfter: cfg.Station.SelfCancelAfter,
		MaxReservationDuration:     cfg.Station.MaxReservationDuration,
		StatusListSize:             cfg.Station.StatusHistorySize,
		Remote:                     protocol,
		Whitelist:                  whitelist,
		IDs:                        ids,
		Sink:                       sink,
		Logger:                     logger,
	})

	for _, evseID := range cfg.EVSEIDList() {
		node, err := proxy.CreateEVSE(evseID)
		if err != nil {
			closeRedis(redisClient, logger)
			closeDB(sqlDB, logger)
			return nil, err
		}
		node.SetStatus(models.StatusAvailable)
	}

	wsServer := ws.NewServer(hub, 10*time.Second, logger)

	routes := httpserver.Routes{
		ReserveEVSE:       handlers.NewReserveEVSEHandler(proxy),
		ReserveStation:    handlers.NewReserveStationHandler(proxy),
		CancelReservation: handlers.NewCancelReservationHandler(proxy),
		RemoteStart:       handlers.NewRemoteStartHandler(proxy),
		RemoteStop:        handlers.NewRemoteStopHandler(proxy),
		ListEVSEs:         handlers.NewListEVSEsHandler(proxy),
		EVSEStatus:        handlers.NewEVSEStatusHandler(proxy),
		Events:            wsServer.HandleEvents,
		Health:            handlers.NewHealthHandler(),
	}
	if sessionRepo != nil {
		routes.EVSESessions = handlers.NewEVSESessionsHandler(proxy, sessionRepo)
	}

	router := httpserver.NewRouter(routes, cfg.Auth.JWTSecret)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server:      server,
		proxy:       proxy,
		hub:         hub,
		db:          sqlDB,
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

// Run starts the maintenance loop and the HTTP server, blocking until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.proxy.StartSelfCheck(); err != nil {
		return err
	}
	// Warm pass before the first scheduled tick: expiry sweep, status import
	// and whitelist cache fill.
	go a.proxy.RunSelfCheck(ctx)
	go a.hub.Start(ctx)
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	a.proxy.StopSelfCheck()
	closeDB(a.db, a.logger)
	closeRedis(a.redisClient, a.logger)
}

func closeDB(db *sql.DB, logger *zap.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		logger.Warn("failed to close db", zap.Error(err))
	}
}

func closeRedis(client *redis.Client, logger *zap.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Warn("failed to close redis", zap.Error(err))
	}
}
