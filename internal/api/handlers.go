package api

import (
    "encoding/json"
    "net/http"
    "regexp"

    "github.com/example/bank-sync/internal/match"
)

type syncResponse struct {
    Status string `json:"status"`
}

type matchersResponse struct {
    Matchers []match.Rule `json:"matchers"`
}

// handleSync runs the pipeline synchronously and acknowledges with its
// terminal outcome. The run itself never errors; failure detail lives in
// the execution log.
func handleSync(deps Dependencies) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        if deps.Runner == nil {
            writeJSONError(w, http.StatusServiceUnavailable, "runner_unavailable")
            return
        }

        if deps.Limiter != nil {
            allowed, err := deps.Limiter.Allow(r.Context())
            if err != nil {
                writeJSONError(w, http.StatusServiceUnavailable, "rate_limiter_unavailable")
                return
            }
            if !allowed {
                writeJSONError(w, http.StatusTooManyRequests, "rate_limited")
                return
            }
        }

        outcome := deps.Runner.Run(r.Context())
        writeJSON(w, http.StatusOK, syncResponse{Status: string(outcome)})
    }
}

func handleGetMatchers(deps Dependencies) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        rules, err := deps.State.Matchers(r.Context())
        if err != nil {
            writeJSONError(w, http.StatusInternalServerError, "internal_error")
            return
        }
        if rules == nil {
            rules = []match.Rule{}
        }
        writeJSON(w, http.StatusOK, matchersResponse{Matchers: rules})
    }
}

func handlePutMatchers(deps Dependencies) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        var rules []match.Rule
        if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
            writeJSONError(w, http.StatusBadRequest, "malformed_body")
            return
        }

        seen := make(map[string]struct{}, len(rules))
        for _, rule := range rules {
            if rule.Name == "" {
                writeJSONError(w, http.StatusBadRequest, "matcher_name_required")
                return
            }
            if _, dup := seen[rule.Name]; dup {
                writeJSONError(w, http.StatusBadRequest, "duplicate_matcher_name")
                return
            }
            seen[rule.Name] = struct{}{}

            if _, err := regexp.Compile(rule.Pattern); err != nil {
                writeJSONError(w, http.StatusBadRequest, "invalid_pattern")
                return
            }
        }

        if err := deps.State.SetMatchers(r.Context(), rules); err != nil {
            writeJSONError(w, http.StatusInternalServerError, "internal_error")
            return
        }
        writeJSON(w, http.StatusOK, matchersResponse{Matchers: rules})
    }
}
