package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"domaindns/internal/auth"
	"domaindns/internal/config"
	"domaindns/internal/database"
	"domaindns/internal/handler"
	"domaindns/internal/provider"
	"domaindns/internal/service"
	"domaindns/web"
)

func Start(cfg *config.Config, version string) error {
	db, err := database.Open(cfg.Database.DSN, web.MigrationsFS())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	sessionMgr, err := auth.NewSessionManager(db)
	if err != nil {
		return fmt.Errorf("failed to init session manager: %w", err)
	}

	_ = db.PurgeExpiredSessions(context.Background())

	logger := log.Default()
	cf := provider.NewCloudflare(cfg.Cloudflare.APIToken)

	recordSvc := service.NewRecordService(db, cf, logger)
	domainSvc := service.NewDomainService(newDomainStore(db), recordSvc, logger)
	pointsSvc := service.NewPointsService(newLedgerStore(db), logger)

	// Initialize LDAP client (nil if disabled)
	var ldapClient *auth.LDAPClient
	if cfg.LDAP.Enabled {
		ldapClient = auth.NewLDAPClient(cfg.LDAP)
		log.Println("LDAP authentication enabled")
		log.Printf("LDAP server: %s", cfg.LDAP.URL)
		log.Printf("LDAP groups mapped: %d role(s)", len(cfg.LDAP.GroupMapping))
	}

	setupH := handler.NewSetupHandler(db)
	authH := handler.NewAuthHandler(db, sessionMgr, ldapClient, pointsSvc)
	zoneH := handler.NewZoneHandler(db)
	domainH := handler.NewDomainHandler(domainSvc, sessionMgr, db)
	pointsH := handler.NewPointsHandler(pointsSvc, sessionMgr, db)
	adminH := handler.NewAdminHandler(db, sessionMgr, pointsSvc, recordSvc)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/setup", setupH.Status)
	mux.HandleFunc("POST /api/setup", setupH.Submit)

	appMux := http.NewServeMux()

	appMux.HandleFunc("POST /api/register", authH.Register)
	appMux.HandleFunc("POST /api/login", authH.Login)
	appMux.HandleFunc("POST /api/logout", authH.Logout)
	appMux.HandleFunc("GET /api/me", sessionMgr.RequireAuth(authH.Me))

	appMux.HandleFunc("GET /api/zones", sessionMgr.RequireAuth(zoneH.List))

	appMux.HandleFunc("POST /api/domains", sessionMgr.RequireAuth(sessionMgr.ValidateCSRF(domainH.Claim)))
	appMux.HandleFunc("GET /api/domains", sessionMgr.RequireAuth(domainH.List))
	appMux.HandleFunc("PUT /api/domains/{id}", sessionMgr.RequireAuth(sessionMgr.ValidateCSRF(domainH.Update)))
	appMux.HandleFunc("DELETE /api/domains/{id}", sessionMgr.RequireAuth(sessionMgr.ValidateCSRF(domainH.Release)))

	appMux.HandleFunc("GET /api/points", sessionMgr.RequireAuth(pointsH.History))
	appMux.HandleFunc("POST /api/points/redeem", sessionMgr.RequireAuth(sessionMgr.ValidateCSRF(pointsH.RedeemCard)))
	appMux.HandleFunc("GET /api/invite", sessionMgr.RequireAuth(pointsH.InviteCode))
	appMux.HandleFunc("POST /api/invite", sessionMgr.RequireAuth(sessionMgr.ValidateCSRF(pointsH.GenerateInviteCode)))
	appMux.HandleFunc("POST /api/invite/bind", sessionMgr.RequireAuth(sessionMgr.ValidateCSRF(pointsH.BindInviteCode)))

	appMux.HandleFunc("GET /api/admin/users", sessionMgr.RequireAdmin(adminH.ListUsers))
	appMux.HandleFunc("POST /api/admin/users", sessionMgr.RequireAdmin(sessionMgr.ValidateCSRF(adminH.CreateUser)))
	appMux.HandleFunc("POST /api/admin/users/active", sessionMgr.RequireAdmin(sessionMgr.ValidateCSRF(adminH.SetUserActive)))
	appMux.HandleFunc("POST /api/admin/users/{id}/points", sessionMgr.RequireAdmin(sessionMgr.ValidateCSRF(adminH.AdjustPoints)))
	appMux.HandleFunc("POST /api/admin/users/{id}/verify-reward", sessionMgr.RequireAdmin(sessionMgr.ValidateCSRF(adminH.GrantVerificationReward)))

	appMux.HandleFunc("GET /api/admin/cards", sessionMgr.RequireAdmin(adminH.ListCards))
	appMux.HandleFunc("POST /api/admin/cards", sessionMgr.RequireAdmin(sessionMgr.ValidateCSRF(adminH.CreateCards)))

	appMux.HandleFunc("GET /api/admin/zones", sessionMgr.RequireAdmin(adminH.ListZones))
	appMux.HandleFunc("POST /api/admin/zones", sessionMgr.RequireAdmin(sessionMgr.ValidateCSRF(adminH.CreateZone)))
	appMux.HandleFunc("POST /api/admin/zones/{id}/enabled", sessionMgr.RequireAdmin(sessionMgr.ValidateCSRF(adminH.SetZoneEnabled)))
	appMux.HandleFunc("POST /api/admin/zones/{id}/resync", sessionMgr.RequireAdmin(sessionMgr.ValidateCSRF(adminH.ResyncZone)))
	appMux.HandleFunc("GET /api/admin/zones/{id}/records", sessionMgr.RequireAdmin(adminH.ListZoneRecords))

	appMux.HandleFunc("GET /api/admin/settings", sessionMgr.RequireAdmin(adminH.GetSettings))
	appMux.HandleFunc("POST /api/admin/settings", sessionMgr.RequireAdmin(sessionMgr.ValidateCSRF(adminH.UpdateSetting)))
	appMux.HandleFunc("GET /api/admin/audit", sessionMgr.RequireAdmin(adminH.AuditLog))
	appMux.HandleFunc("GET /api/admin/stats", sessionMgr.RequireAdmin(adminH.Stats))

	mux.Handle("/", handler.RequireSetupComplete(db, appMux))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("domaindns server %s starting on %s", version, addr)
	return http.ListenAndServe(addr, mux)
}
