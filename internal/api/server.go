// Package api exposes the betting engine over HTTP and WebSocket.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/cazino/engine/internal/metrics"
	"github.com/cazino/engine/internal/model"
	"github.com/cazino/engine/internal/notify"
	"github.com/cazino/engine/internal/service"
	"github.com/cazino/engine/internal/visibility"
)

// AdminAvatar is the avatar every market creator gets.
const AdminAvatar = "👑"

// Options tunes the HTTP layer.
type Options struct {
	DefaultStartingBalance int64
	AllowedOrigin          string
	RequestTimeout         time.Duration
}

// Server holds the handlers. Events go to pub, which is the hub itself on
// a single instance or a Redis bus feeding every instance's hub.
type Server struct {
	svc  *service.Service
	hub  *Hub
	pub  notify.Publisher
	opts Options
	log  *slog.Logger
}

// NewServer wires handlers to svc. A nil pub publishes straight to hub.
func NewServer(svc *service.Service, hub *Hub, pub notify.Publisher, opts Options, log *slog.Logger) *Server {
	if pub == nil {
		pub = hub
	}
	if opts.DefaultStartingBalance <= 0 {
		opts.DefaultStartingBalance = 1000
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Server{svc: svc, hub: hub, pub: pub, opts: opts, log: log}
}

// Router builds the chi router with middleware and every route.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors(s.opts.AllowedOrigin))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "cazino"})
	})
	r.Handle("/metrics", metrics.Handler())

	// WebSocket connections outlive any request timeout.
	r.Get("/ws/{marketID}", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))

		r.Route("/markets", func(r chi.Router) {
			r.Post("/", s.createMarket)
			r.Post("/join/{inviteCode}", s.joinMarket)

			r.Route("/{marketID}", func(r chi.Router) {
				r.Get("/", s.getMarket)
				r.Get("/leaderboard", s.leaderboard)
				r.Post("/open/{adminID}", s.openMarket)
				r.Post("/close/{adminID}", s.closeMarket)
				r.Post("/resolve/{adminID}", s.resolveMarket)
				r.Post("/delete/{adminID}", s.deleteMarket)
				r.Get("/bets/{userID}", s.listBets)
				r.Post("/bets/{creatorID}", s.createBet)
				r.Get("/pending", s.pendingBets)
			})
		})

		r.Route("/bets/{betID}", func(r chi.Router) {
			r.Post("/approve/{adminID}", s.approveBet)
			r.Post("/wager/{userID}", s.placeWager)
			r.Get("/chart", s.probabilityChart)
			r.Post("/resolve/{adminID}", s.resolveBet)
		})

		r.Get("/users/{userID}/reveal", s.reveal)
		r.Get("/devices/{deviceID}/markets", s.deviceMarkets)
	})

	return r
}

// cors allows the player app to call the API from another origin.
func cors(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// publish delivers ev. Delivery failures never fail the request.
func (s *Server) publish(ctx context.Context, ev notify.Event) {
	if err := s.pub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn("publish event", "type", ev.Type, "market_id", ev.MarketID, "err", err)
	}
}

// --- WebSocket ---

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	if _, err := s.svc.GetMarket(r.Context(), marketID); err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	s.hub.ServeWS(w, r, marketID)
}

// --- Markets ---

func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if !decode(w, r, &req) {
		return
	}
	balance := s.opts.DefaultStartingBalance
	if req.StartingBalance != nil {
		balance = *req.StartingBalance
	}
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = uuid.New().String()
	}

	market, admin, err := s.svc.CreateMarket(r.Context(), service.CreateMarketParams{
		Name:            req.Name,
		AdminDeviceID:   deviceID,
		AdminName:       req.AdminName,
		AdminAvatar:     AdminAvatar,
		StartingBalance: balance,
		DurationHours:   req.DurationHours,
		InviteCode:      req.InviteCode,
	})
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}

	s.publish(r.Context(), notify.MarketUpdate(market))
	writeJSON(w, http.StatusCreated, CreateMarketResponse{
		Market:     market,
		User:       admin,
		InviteCode: market.InviteCode,
	})
}

func (s *Server) joinMarket(w http.ResponseWriter, r *http.Request) {
	var req JoinMarketRequest
	if !decode(w, r, &req) {
		return
	}
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = uuid.New().String()
	}

	market, user, created, err := s.svc.JoinMarket(r.Context(),
		chi.URLParam(r, "inviteCode"), deviceID, req.DisplayName, req.Avatar)
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}

	if created {
		s.publish(r.Context(), notify.UserJoined(user))
	}
	writeJSON(w, http.StatusOK, JoinMarketResponse{Market: market, User: user})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.svc.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.Leaderboard(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, LeaderboardResponse{Users: entries})
}

func (s *Server) openMarket(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.svc.OpenMarket)
}

func (s *Server) closeMarket(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.svc.CloseMarket)
}

func (s *Server) resolveMarket(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.svc.ResolveMarket)
}

type transitionFunc func(ctx context.Context, marketID, adminID string) (*model.Market, error)

func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	market, err := fn(r.Context(), chi.URLParam(r, "marketID"), chi.URLParam(r, "adminID"))
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	s.publish(r.Context(), notify.MarketStatusChanged(market))
	writeJSON(w, http.StatusOK, market)
}

func (s *Server) deleteMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	if err := s.svc.DeleteMarket(r.Context(), marketID, chi.URLParam(r, "adminID")); err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	s.publish(r.Context(), notify.MarketDeleted(marketID))
	w.WriteHeader(http.StatusNoContent)
}

// --- Bets ---

func (s *Server) listBets(w http.ResponseWriter, r *http.Request) {
	bets, err := s.svc.ListBets(r.Context(), chi.URLParam(r, "marketID"), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

func (s *Server) createBet(w http.ResponseWriter, r *http.Request) {
	var req CreateBetRequest
	if !decode(w, r, &req) {
		return
	}
	creatorID := chi.URLParam(r, "creatorID")

	bet, err := s.svc.CreateBet(r.Context(), service.CreateBetParams{
		MarketID:        chi.URLParam(r, "marketID"),
		CreatorID:       creatorID,
		SubjectUserID:   req.SubjectUserID,
		Description:     req.Description,
		InitialOdds:     req.InitialOdds,
		OpeningWager:    req.OpeningWager,
		HideFromSubject: req.HideFromSubject,
	})
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}

	s.publish(r.Context(), notify.BetCreated(bet))
	writeJSON(w, http.StatusCreated, BetResponse{Bet: visibility.ToView(bet, creatorID)})
}

func (s *Server) pendingBets(w http.ResponseWriter, r *http.Request) {
	bets, err := s.svc.PendingBets(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

func (s *Server) approveBet(w http.ResponseWriter, r *http.Request) {
	bet, err := s.svc.ApproveBet(r.Context(), chi.URLParam(r, "betID"), chi.URLParam(r, "adminID"))
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	s.publish(r.Context(), notify.BetApproved(bet))
	writeJSON(w, http.StatusOK, BetResponse{Bet: visibility.ToView(bet, visibility.Nobody)})
}

func (s *Server) placeWager(w http.ResponseWriter, r *http.Request) {
	var req PlaceWagerRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := s.svc.PlaceWager(r.Context(), chi.URLParam(r, "betID"), chi.URLParam(r, "userID"), req.Side, req.Amount)
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}

	s.publish(r.Context(), notify.WagerPlaced(&res.Bet, &res.Wager))
	writeJSON(w, http.StatusOK, WagerResponse{
		BetID:          res.Bet.ID,
		UserID:         res.Wager.UserID,
		Side:           res.Wager.Side,
		Amount:         res.Wager.Amount,
		YesPool:        res.Wager.YesPoolAfter,
		NoPool:         res.Wager.NoPoolAfter,
		NewProbability: res.Wager.ProbabilityAfter,
	})
}

func (s *Server) probabilityChart(w http.ResponseWriter, r *http.Request) {
	points, err := s.svc.ProbabilityChart(r.Context(), chi.URLParam(r, "betID"))
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ProbabilityChartResponse{Points: points})
}

func (s *Server) resolveBet(w http.ResponseWriter, r *http.Request) {
	var req ResolveBetRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := s.svc.ResolveBet(r.Context(), chi.URLParam(r, "betID"), chi.URLParam(r, "adminID"), req.Outcome)
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}

	s.publish(r.Context(), notify.BetResolved(&res.Bet, res.Payouts))
	writeJSON(w, http.StatusOK, ResolveBetResponse{
		Bet:     visibility.ToView(&res.Bet, visibility.Nobody),
		Outcome: req.Outcome,
		Payouts: res.Payouts,
		Dust:    res.Dust,
	})
}

// --- Users ---

func (s *Server) reveal(w http.ResponseWriter, r *http.Request) {
	bets, err := s.svc.Reveal(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, RevealResponse{Bets: bets})
}

func (s *Server) deviceMarkets(w http.ResponseWriter, r *http.Request) {
	ms, err := s.svc.MarketsForDevice(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	if ms == nil {
		ms = []model.Membership{}
	}
	writeJSON(w, http.StatusOK, DeviceMarketsResponse{Markets: ms})
}
