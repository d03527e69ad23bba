// Package web serves the lab dashboard: the PLNM score form and the slide
// upload with its rendered summary.
package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pathdesk/internal/imagerender"
	"github.com/local/pathdesk/internal/metrics"
	"github.com/local/pathdesk/internal/orchestrator"
	"github.com/local/pathdesk/internal/score"
	"github.com/local/pathdesk/internal/slide"
	"github.com/local/pathdesk/internal/summarizer"
)

//go:embed templates/*.html
var templateFS embed.FS

// levelRows is how many level rows the summary table shows.
const levelRows = 5

// Analyzer is the part of the orchestrator the dashboard drives.
type Analyzer interface {
	ReadUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, int, error)
	Analyze(ctx context.Context, path string, opts summarizer.Options) (orchestrator.Result, error)
	Options(pixelBudget int64, previewMaxSide int, displayName string) summarizer.Options
}

type Web struct {
	tpl         *template.Template
	analyzer    Analyzer
	username    string
	password    string
	session     string
	placeholder template.URL
}

// New builds the dashboard. Login is required only when both username and
// password are set.
func New(a Analyzer, username, password string) *Web {
	tpl := template.Must(template.New("").Funcs(template.FuncMap{
		"label": score.Label,
		"add":   func(a, b int) int { return a + b },
	}).ParseFS(templateFS, "templates/*.html"))
	w := &Web{
		tpl:      tpl,
		analyzer: a,
		username: username,
		password: password,
		session:  uuid.NewString(),
	}
	if b, err := imagerender.EncodeJPEG(imagerender.Placeholder(400, 300), 85); err == nil {
		w.placeholder = template.URL(imagerender.DataURI(b))
	}
	return w
}

func (w *Web) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /web/login", w.handleLoginPage)
	mux.HandleFunc("POST /web/login", w.handleLogin)
	mux.HandleFunc("/web/logout", w.handleLogout)
	mux.HandleFunc("GET /web/{$}", w.requireAuth(w.handleDashboard))
	mux.HandleFunc("POST /web/analyze", w.requireAuth(w.handleAnalyze))
}

func (w *Web) authEnabled() bool { return w.username != "" && w.password != "" }

func (w *Web) render(wr http.ResponseWriter, status int, name string, data any) {
	wr.Header().Set("Content-Type", "text/html; charset=utf-8")
	wr.WriteHeader(status)
	if err := w.tpl.ExecuteTemplate(wr, name, data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("template render failed")
	}
}

func (w *Web) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(wr http.ResponseWriter, r *http.Request) {
		if !w.authEnabled() {
			next(wr, r)
			return
		}
		c, err := r.Cookie("auth")
		if err != nil || subtle.ConstantTimeCompare([]byte(c.Value), []byte(w.session)) != 1 {
			http.Redirect(wr, r, "/web/login", http.StatusSeeOther)
			return
		}
		next(wr, r)
	}
}

func (w *Web) handleLoginPage(wr http.ResponseWriter, r *http.Request) {
	if !w.authEnabled() {
		http.Redirect(wr, r, "/web/", http.StatusSeeOther)
		return
	}
	w.render(wr, http.StatusOK, "login.html", map[string]any{"Error": r.URL.Query().Get("error")})
}

func (w *Web) handleLogin(wr http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(wr, r, "/web/login?error=invalid+form", http.StatusSeeOther)
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(r.Form.Get("username")), []byte(w.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(r.Form.Get("password")), []byte(w.password)) == 1
	if w.authEnabled() && userOK && passOK {
		http.SetCookie(wr, &http.Cookie{Name: "auth", Value: w.session, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})
		http.Redirect(wr, r, "/web/", http.StatusSeeOther)
		return
	}
	log.Warn().Str("username", r.Form.Get("username")).Msg("dashboard login failed")
	http.Redirect(wr, r, "/web/login?error=invalid+credentials", http.StatusSeeOther)
}

func (w *Web) handleLogout(wr http.ResponseWriter, r *http.Request) {
	http.SetCookie(wr, &http.Cookie{Name: "auth", Value: "", Path: "/", MaxAge: -1})
	http.Redirect(wr, r, "/web/login", http.StatusSeeOther)
}

// field is one radio pair of the score form.
type field struct {
	Name  string
	Label string
	Value int
}

var scoreFields = []struct{ name, label string }{
	{"lvi", "LVI"},
	{"tumor_budding", "Tumor budding"},
	{"pdcs_level", "PDCs level"},
	{"histologic_grade2", "Histologic grade2"},
	{"sm2", "SM2"},
}

func fields(obs score.Observations) []field {
	vals := []int{obs.LVI, obs.TumorBudding, obs.PDCsLevel, obs.HistologicGrade2, obs.SM2}
	out := make([]field, len(scoreFields))
	for i, f := range scoreFields {
		out[i] = field{Name: f.name, Label: f.label, Value: vals[i]}
	}
	return out
}

type property struct{ Key, Value string }

type slideView struct {
	ID           string
	Summary      summarizer.Summary
	Levels       []slide.Level
	MoreLevels   int
	Properties   []property
	PreviewURI   template.URL
	DownloadURL  string
	DownloadName string
	ReportJSON   string
	ShowDetailed bool
}

type pageData struct {
	Auth           bool
	Fields         []field
	PreviewMaxSide int
	MinSide        int
	MaxSide        int
	Detailed       bool
	Placeholder    template.URL

	Score     *int
	MaxScore  int
	Formula   string
	Breakdown []score.Term

	Slide *slideView
	Error string
}

func (w *Web) basePage() pageData {
	return pageData{
		Auth:           w.authEnabled(),
		Fields:         fields(score.Observations{}),
		PreviewMaxSide: summarizer.DefaultPreviewMaxSide,
		MinSide:        orchestrator.MinPreviewSide,
		MaxSide:        orchestrator.MaxPreviewSide,
		Placeholder:    w.placeholder,
		MaxScore:       score.MaxScore,
		Formula:        score.Formula,
	}
}

func (w *Web) handleDashboard(wr http.ResponseWriter, r *http.Request) {
	w.render(wr, http.StatusOK, "dashboard.html", w.basePage())
}

// parseObservations reads the five radio values from the parsed form.
func parseObservations(r *http.Request) (score.Observations, error) {
	vals := make([]int, len(scoreFields))
	for i, f := range scoreFields {
		v, err := score.ParseFlag(f.name, r.FormValue(f.name))
		if err != nil {
			return score.Observations{}, err
		}
		vals[i] = v
	}
	return score.Observations{LVI: vals[0], TumorBudding: vals[1], PDCsLevel: vals[2], HistologicGrade2: vals[3], SM2: vals[4]}, nil
}

func (w *Web) handleAnalyze(wr http.ResponseWriter, r *http.Request) {
	page := w.basePage()
	status := http.StatusOK

	file, hdr, code, err := w.analyzer.ReadUpload(wr, r)
	switch {
	case err == nil:
		defer file.Close()
	case errors.Is(err, http.ErrMissingFile):
		file = nil
	default:
		if r.Form == nil {
			_ = r.ParseForm()
		}
		page.Error = err.Error()
		status = code
	}
	page.Detailed = r.FormValue("detailed") == "on"

	obs, err := parseObservations(r)
	if err != nil {
		page.Error = err.Error()
		w.render(wr, http.StatusBadRequest, "dashboard.html", page)
		return
	}
	page.Fields = fields(obs)
	total, _ := obs.Score()
	page.Score = &total
	page.Breakdown, _ = obs.Breakdown()
	metrics.ObserveScore(total)

	_, side, err := orchestrator.ParseParams("", r.FormValue("preview_max_side"))
	if err != nil {
		page.Error = err.Error()
		w.render(wr, http.StatusBadRequest, "dashboard.html", page)
		return
	}
	if side > 0 {
		page.PreviewMaxSide = side
	}

	if file != nil {
		view, code, err := w.analyzeFile(r.Context(), file, hdr.Filename, side, page.Detailed)
		if err != nil {
			page.Error = err.Error()
			status = code
		}
		page.Slide = view
	}
	w.render(wr, status, "dashboard.html", page)
}

func (w *Web) analyzeFile(ctx context.Context, file multipart.File, filename string, side int, detailed bool) (*slideView, int, error) {
	tmp, _, err := orchestrator.SaveUpload(file, filename)
	if err != nil {
		log.Error().Err(err).Str("filename", filename).Msg("cannot save dashboard upload")
		return nil, http.StatusInternalServerError, errors.New("cannot save upload")
	}
	defer func() {
		if err := os.Remove(tmp); err != nil {
			log.Warn().Err(err).Str("file", tmp).Msg("failed to remove temp file")
		}
	}()

	res, err := w.analyzer.Analyze(ctx, tmp, w.analyzer.Options(0, side, filepath.Base(filename)))
	if err != nil {
		return nil, http.StatusServiceUnavailable, err
	}
	return buildView(res, detailed), http.StatusOK, nil
}

func buildView(res orchestrator.Result, detailed bool) *slideView {
	sum := res.Summary
	v := &slideView{ID: res.ID, Summary: sum, ShowDetailed: detailed}
	levels := sum.Levels
	if len(levels) > levelRows {
		v.MoreLevels = len(levels) - levelRows
		levels = levels[:levelRows]
	}
	v.Levels = levels

	keys := make([]string, 0, len(sum.Properties))
	for k := range sum.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.Properties = append(v.Properties, property{Key: k, Value: sum.Properties[k]})
	}

	if len(res.PreviewJPEG) > 0 {
		v.PreviewURI = template.URL(imagerender.DataURI(res.PreviewJPEG))
		v.DownloadURL = "/api/slides/" + res.ID + "/preview.jpg"
		v.DownloadName = sum.PreviewFilename()
	}
	if detailed {
		if b, err := json.MarshalIndent(sum, "", "  "); err == nil {
			v.ReportJSON = string(b)
		}
	}
	return v
}
