package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/reviewdigest/internal/config"
	"github.com/TobiSchelling/reviewdigest/internal/grader"
	"github.com/TobiSchelling/reviewdigest/internal/pipeline"
	"github.com/TobiSchelling/reviewdigest/internal/window"
)

type runBody struct {
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	AutoLoop  any      `json:"auto_loop"`
	Versions  []string `json:"versions"`
}

type runParams struct {
	Start    string
	End      string
	AutoLoop bool
	Versions []string
}

type dayCountJSON struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type stepJSON struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type versionJSON struct {
	Version       string         `json:"version"`
	Tagging       stepJSON       `json:"tagging"`
	TagRows       int            `json:"tag_rows"`
	Grading       stepJSON       `json:"grading"`
	Grades        []grader.Grade `json:"grades,omitempty"`
	MentionCounts map[string]int `json:"mention_counts,omitempty"`
	RawResponse   string         `json:"raw_response,omitempty"`
}

type windowJSON struct {
	Status        string         `json:"status"`
	RunID         string         `json:"run_id,omitempty"`
	DateRange     string         `json:"date_range"`
	StartDate     string         `json:"start_date"`
	EndDate       string         `json:"end_date"`
	ReviewCount   int            `json:"review_count"`
	DailyCounts   []dayCountJSON `json:"daily_counts"`
	MissingDates  []string       `json:"missing_dates,omitempty"`
	WinsSummary   string         `json:"wins_summary"`
	OppsSummary   string         `json:"opps_summary"`
	SummaryStatus string         `json:"summary_status,omitempty"`
	Versions      []versionJSON  `json:"versions"`
	Error         string         `json:"error,omitempty"`
}

type loopJSON struct {
	Status    string       `json:"status"`
	DateRange string       `json:"date_range"`
	StartDate string       `json:"start_date"`
	EndDate   string       `json:"end_date"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Weeks     []windowJSON `json:"weeks"`
}

type errorJSON struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// handleRun triggers a single window or, with auto_loop, an aligned
// multi-week backfill. Parameters come from the query string, then a JSON
// body, then START_DATE, END_DATE and AUTO_LOOP in the environment.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	params, err := s.runParams(r)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorJSON{Status: "failed", Error: err.Error()})
		return
	}
	versions := params.Versions
	if len(versions) == 0 {
		versions = s.opts.Versions
	}

	if params.Start == "" && params.End == "" {
		s.runSingle(w, r, window.CanonicalLastWeek(s.opts.Now()), versions)
		return
	}
	if params.Start == "" || params.End == "" {
		writeJSON(w, http.StatusInternalServerError, errorJSON{Status: "failed", Error: "start_date and end_date must be given together"})
		return
	}

	start, err := window.ParseDate(params.Start)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorJSON{Status: "failed", Error: err.Error()})
		return
	}
	end, err := window.ParseDate(params.End)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorJSON{Status: "failed", Error: err.Error()})
		return
	}

	if params.AutoLoop {
		s.runLoop(w, r, start, end, versions)
		return
	}
	win, err := window.New(start, end)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorJSON{Status: "failed", Error: err.Error()})
		return
	}
	s.runSingle(w, r, win, versions)
}

func (s *Server) runSingle(w http.ResponseWriter, r *http.Request, win window.Window, versions []string) {
	res, err := s.runner.RunWindow(r.Context(), win, versions)
	body := toWindowJSON(win, res, err)
	if err != nil {
		s.logger.Error("run failed", zap.String("window", win.ID()), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) runLoop(w http.ResponseWriter, r *http.Request, start, end time.Time, versions []string) {
	res, err := s.runner.RunBackfill(r.Context(), start, end, versions, pipeline.BackfillOptions{Align: true})
	if err != nil {
		s.logger.Error("loop failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorJSON{Status: "failed", Error: err.Error()})
		return
	}

	body := loopJSON{
		Status:    string(res.Status()),
		DateRange: window.FormatDate(res.Start) + " to " + window.FormatDate(res.End),
		StartDate: window.FormatDate(res.Start),
		EndDate:   window.FormatDate(res.End),
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Weeks:     make([]windowJSON, 0, len(res.Weeks)),
	}
	for _, wk := range res.Weeks {
		body.Weeks = append(body.Weeks, toWindowJSON(wk.Window, wk.Result, wk.Err))
	}

	code := http.StatusOK
	switch res.Status() {
	case pipeline.RunPartial:
		code = http.StatusMultiStatus
	case pipeline.RunFailed:
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, body)
}

func (s *Server) runParams(r *http.Request) (runParams, error) {
	q := r.URL.Query()

	var body runBody
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			// Unreadable bodies are ignored; query and env still apply.
			s.logger.Warn("ignoring request body", zap.Error(err))
			body = runBody{}
		}
	}

	pick := func(query, fromBody, env string) string {
		if v := strings.TrimSpace(q.Get(query)); v != "" {
			return v
		}
		if v := strings.TrimSpace(fromBody); v != "" {
			return v
		}
		return strings.TrimSpace(s.opts.Getenv(env))
	}

	p := runParams{
		Start: pick("start_date", body.StartDate, "START_DATE"),
		End:   pick("end_date", body.EndDate, "END_DATE"),
	}

	loop := pick("auto_loop", anyString(body.AutoLoop), "AUTO_LOOP")
	b, err := config.ParseBool(loop)
	if err != nil {
		return p, fmt.Errorf("invalid auto_loop %q", loop)
	}
	p.AutoLoop = b

	if v := q.Get("versions"); v != "" {
		p.Versions = config.SplitList(v)
	} else if len(body.Versions) > 0 {
		p.Versions = body.Versions
	}
	return p, nil
}

func anyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		return t
	}
	return fmt.Sprint(v)
}

func toWindowJSON(win window.Window, res *pipeline.WindowResult, runErr error) windowJSON {
	out := windowJSON{
		Status:      string(pipeline.RunFailed),
		DateRange:   win.String(),
		StartDate:   window.FormatDate(win.Start),
		EndDate:     window.FormatDate(win.End),
		DailyCounts: []dayCountJSON{},
		Versions:    []versionJSON{},
	}

	if res != nil {
		out.RunID = res.RunID
		out.ReviewCount = res.ReviewCount
		for _, dc := range res.DailyCounts {
			out.DailyCounts = append(out.DailyCounts, dayCountJSON{Date: window.FormatDate(dc.Date), Count: dc.Count})
		}
		out.WinsSummary = res.Summary.Wins
		out.OppsSummary = res.Summary.Opportunities
		out.SummaryStatus = string(res.SummaryStep.Status)
		for _, v := range res.Versions {
			out.Versions = append(out.Versions, versionJSON{
				Version:       v.Version,
				Tagging:       stepJSON{Status: string(v.Tagging.Status), Detail: v.Tagging.Summary},
				TagRows:       v.TagRows,
				Grading:       stepJSON{Status: string(v.Grading.Status), Detail: v.Grading.Summary},
				Grades:        v.Grades,
				MentionCounts: v.MentionCounts,
				RawResponse:   v.RawResponse,
			})
		}
		out.Status = string(res.Status())
	}

	if runErr != nil {
		out.Status = string(pipeline.RunFailed)
		out.Error = runErr.Error()
		var inc *window.IncompleteError
		if errors.As(runErr, &inc) {
			for _, d := range inc.MissingDates {
				out.MissingDates = append(out.MissingDates, window.FormatDate(d))
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
