package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mellowlab/asmrgen/internal/service"
)

// Server hosts the webhook/callback endpoints, a small user-facing API, and the
// basic-auth admin surface. Authentication of end users happens upstream; the
// reverse proxy injects the authenticated user id as a header.
type Server struct {
	addr        string
	username    string
	password    string
	log         *slog.Logger
	profiles    *service.ProfileService
	credits     *service.CreditService
	generations *service.GenerationService
	checkouts   *service.CheckoutService
	packages    *service.PackageService
	rewards     *service.RewardService
	videos      *service.VideoService
	router      *chi.Mux
}

const userIDHeader = "X-User-ID"

func New(addr, username, password string, log *slog.Logger, profiles *service.ProfileService, credits *service.CreditService, generations *service.GenerationService, checkouts *service.CheckoutService, packages *service.PackageService, rewards *service.RewardService, videos *service.VideoService) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:        addr,
		username:    username,
		password:    password,
		log:         log,
		profiles:    profiles,
		credits:     credits,
		generations: generations,
		checkouts:   checkouts,
		packages:    packages,
		rewards:     rewards,
		videos:      videos,
		router:      r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhooks/creem", s.handleCreemWebhook)
	r.Post("/callbacks/kie", s.handleKieCallback)

	r.Route("/api", func(api chi.Router) {
		api.Use(s.requireUser)
		api.Get("/profile", s.handleProfile)
		api.Get("/videos", s.handleListVideos)
		api.Get("/transactions", s.handleListTransactions)
		api.Post("/generations", s.handleStartGeneration)
		api.Post("/checkouts", s.handleCreateCheckout)
		api.Get("/checkouts/{id}", s.handleCheckoutStatus)
		api.Post("/check-ins", s.handleCheckIn)
		api.Get("/check-ins/today", s.handleCheckInStatus)
		api.Get("/referral-code", s.handleReferralCode)
		api.Post("/referrals", s.handleApplyReferral)
	})

	r.Group(func(admin chi.Router) {
		admin.Use(s.basicAuthMiddleware())
		admin.Post("/admin/users/{id}/credits", s.handleGrantCredits)
		admin.Get("/admin/users/{id}/balance", s.handleAdminBalance)
		admin.Get("/admin/tasks/{id}", s.handleTaskStatus)
		admin.Route("/admin/packages", func(r chi.Router) {
			r.Get("/", s.handleListPackages)
			r.Post("/", s.handleCreatePackage)
			r.Put("/{id}", s.handleUpdatePackage)
			r.Delete("/{id}", s.handleDeletePackage)
		})
	})

	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // completion callbacks stream large downloads
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("server shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreemWebhook is the public endpoint for gateway checkout updates.
func (s *Server) handleCreemWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	if err := s.checkouts.HandleWebhook(r.Context(), body); err != nil {
		s.log.Error("creem webhook", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type kieCallbackRequest struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID     string `json:"taskId"`
		State      string `json:"state"`
		ResultJSON string `json:"resultJson"`
		FailMsg    string `json:"failMsg"`
	} `json:"data"`
}

// handleKieCallback receives generation completion notices and drives the media
// pipeline. The generator retries undelivered callbacks, so a late 5xx here is
// recoverable on their side.
func (s *Server) handleKieCallback(w http.ResponseWriter, r *http.Request) {
	var req kieCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Data.TaskID == "" {
		http.Error(w, "taskId required", http.StatusBadRequest)
		return
	}

	succeeded := req.Code == 200 && req.Data.State == "success"
	var videoURL, thumbURL string
	if succeeded && req.Data.ResultJSON != "" {
		var result struct {
			ResultURLs []string `json:"resultUrls"`
		}
		if err := json.Unmarshal([]byte(req.Data.ResultJSON), &result); err != nil {
			http.Error(w, "invalid resultJson", http.StatusBadRequest)
			return
		}
		if len(result.ResultURLs) > 0 {
			videoURL = result.ResultURLs[0]
		}
		if len(result.ResultURLs) > 1 {
			thumbURL = result.ResultURLs[1]
		}
	}
	failMsg := req.Data.FailMsg
	if failMsg == "" && req.Msg != "" && !succeeded {
		failMsg = req.Msg
	}

	completion, err := s.generations.HandleCompletion(r.Context(), req.Data.TaskID, succeeded, videoURL, thumbURL, failMsg)
	if err != nil {
		s.log.Error("kie callback", "task", req.Data.TaskID, "err", err)
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}
	if completion == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"video_id":      completion.VideoID,
		"video_url":     completion.VideoURL,
		"thumbnail_url": completion.ThumbnailURL,
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, _, err := s.profiles.Ensure(r.Context(), userID(r))
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":                   profile.ID,
		"credits":              profile.Credits,
		"total_credits_spent":  profile.TotalCreditsSpent,
		"total_videos_created": profile.TotalVideosCreated,
	})
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := s.videos.Videos(r.Context(), userID(r), queryLimit(r))
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, videos)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.credits.Transactions(r.Context(), userID(r), queryLimit(r))
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txs)
}

type generationRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
	Duration    int    `json:"duration"`
}

func (s *Server) handleStartGeneration(w http.ResponseWriter, r *http.Request) {
	var req generationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	start, err := s.generations.Start(r.Context(), userID(r), service.GenerationRequest{
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		Duration:    req.Duration,
	})
	if err != nil {
		if errors.Is(err, service.ErrCreditsRequired) {
			s.writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": err.Error()})
			return
		}
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id":           start.TaskID,
		"remaining_credits": start.RemainingCredits,
	})
}

type checkoutRequest struct {
	PackageID int64  `json:"package_id"`
	Email     string `json:"email"`
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	order, err := s.checkouts.Create(r.Context(), userID(r), req.PackageID, req.Email)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"checkout_id": order.CheckoutID,
		"payment_url": order.PaymentURL,
		"credits":     order.Credits,
		"status":      order.Status,
	})
}

func (s *Server) handleCheckoutStatus(w http.ResponseWriter, r *http.Request) {
	session, err := s.checkouts.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"checkout_id": session.ID,
		"status":      session.Status,
		"payment_url": session.PaymentURL,
	})
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	result, err := s.rewards.DailyCheckIn(r.Context(), userID(r))
	if err != nil {
		if errors.Is(err, service.ErrAlreadyCheckedIn) {
			s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"credits_granted":   result.CreditsGranted,
		"remaining_credits": result.RemainingCredits,
	})
}

func (s *Server) handleCheckInStatus(w http.ResponseWriter, r *http.Request) {
	checkedIn, err := s.rewards.HasCheckedInToday(r.Context(), userID(r))
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"checked_in": checkedIn})
}

func (s *Server) handleReferralCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.rewards.EnsureReferralCode(r.Context(), userID(r))
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"code": code.Code, "uses": code.Uses})
}

type referralRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleApplyReferral(w http.ResponseWriter, r *http.Request) {
	var req referralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	result, err := s.rewards.ApplyReferral(r.Context(), userID(r), req.Code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrReferralInvalid), errors.Is(err, service.ErrReferralSelf):
			s.badRequest(w, err)
		case errors.Is(err, service.ErrReferralAlreadyRedeemed):
			s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			s.internalError(w, err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"credits_granted":   result.CreditsGranted,
		"remaining_credits": result.RemainingCredits,
	})
}

type grantRequest struct {
	Amount      int    `json:"amount"`
	Description string `json:"description"`
}

func (s *Server) handleGrantCredits(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	description := req.Description
	if description == "" {
		description = "Manual credit grant"
	}
	id := chi.URLParam(r, "id")
	if _, _, err := s.profiles.Ensure(r.Context(), id); err != nil {
		s.internalError(w, err)
		return
	}
	result, err := s.credits.AddCredits(r.Context(), id, req.Amount, description, "bonus", nil)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if !result.Success {
		s.badRequest(w, errors.New(result.Reason))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"remaining_credits": result.RemainingCredits})
}

func (s *Server) handleAdminBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id": id,
		"credits": s.credits.GetBalance(r.Context(), id),
	})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.generations.TaskStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"task_id":       info.TaskID,
		"state":         info.State,
		"video_url":     info.VideoURL,
		"thumbnail_url": info.ThumbnailURL,
		"fail_code":     info.FailCode,
		"fail_msg":      info.FailMsg,
	})
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := s.packages.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, packages)
}

type packageRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	ProductID       string `json:"product_id"`
	Currency        string `json:"currency"`
	PriceMinorUnits int    `json:"price_minor_units"`
	Credits         int    `json:"credits"`
	IsActive        *bool  `json:"is_active"`
}

type packageUpdateRequest struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	ProductID       *string `json:"product_id"`
	Currency        *string `json:"currency"`
	PriceMinorUnits *int    `json:"price_minor_units"`
	Credits         *int    `json:"credits"`
	IsActive        *bool   `json:"is_active"`
}

func (s *Server) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var req packageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	pkg, err := s.packages.Create(r.Context(), service.CreatePackageInput{
		Title:           req.Title,
		Description:     req.Description,
		ProductID:       req.ProductID,
		Currency:        req.Currency,
		PriceMinorUnits: req.PriceMinorUnits,
		Credits:         req.Credits,
		IsActive:        req.IsActive,
	})
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, pkg)
}

func (s *Server) handleUpdatePackage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req packageUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	pkg, err := s.packages.Update(r.Context(), id, service.UpdatePackageInput{
		Title:           req.Title,
		Description:     req.Description,
		ProductID:       req.ProductID,
		Currency:        req.Currency,
		PriceMinorUnits: req.PriceMinorUnits,
		Credits:         req.Credits,
		IsActive:        req.IsActive,
	})
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pkg)
}

func (s *Server) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.packages.Delete(r.Context(), id); err != nil {
		s.badRequest(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get(userIDHeader)) == "" {
			http.Error(w, "missing user identity", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="asmrgen"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(userIDHeader))
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
