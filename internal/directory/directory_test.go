package directory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func feishuServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v3/app_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["app_id"] != "cli_a" {
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 10003, "msg": "invalid app"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "app_access_token": "t-1"})
	})
	mux.HandleFunc("/wiki/v2/spaces/get_node", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"node": map[string]string{"obj_token": "app-1"}},
		})
	})
	mux.HandleFunc("/bitable/v1/apps/app-1/tables/tbl/records", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("page_token") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": 0,
				"data": map[string]any{
					"items": []any{
						map[string]any{"fields": map[string]any{
							"项目":   "Alpha",
							"资产地域": []any{map[string]any{"text": "ID"}},
							"负责人":  []any{map[string]any{"name": "Lee", "id": "ou_1"}},
						}},
					},
					"page_token": "p2",
					"has_more":   true,
				},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{
				"items":    []any{map[string]any{"fields": map[string]any{"编号": 7}}},
				"has_more": false,
			},
		})
	})
	return httptest.NewServer(mux)
}

func TestFetchPaginatesAndNormalises(t *testing.T) {
	srv := feishuServer(t)
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, AppID: "cli_a", AppSecret: "s", WikiNode: "node", TableID: "tbl", Timeout: time.Second}, zerolog.Nop())
	res := c.Fetch(t.Context())
	if res.Source != "feishu" || len(res.Records) != 2 {
		t.Fatalf("result: %+v", res)
	}
	first := res.Records[0]
	if first["name"] != "Alpha" || first["region"] != "ID" || first["owner"] != "Lee" || first["type"] != "未分类" {
		t.Fatalf("first record: %v", first)
	}
	if res.Records[1]["number"] != "7" || res.Records[1]["name"] != "-" {
		t.Fatalf("second record: %v", res.Records[1])
	}
}

func TestFetchFailureYieldsEmpty(t *testing.T) {
	srv := feishuServer(t)
	defer srv.Close()

	cases := map[string]Options{
		"missing credentials": {BaseURL: srv.URL, TableID: "tbl"},
		"rejected app":        {BaseURL: srv.URL, AppID: "other", AppSecret: "s", AppToken: "app-1", TableID: "tbl"},
		"unknown table":       {BaseURL: srv.URL, AppID: "cli_a", AppSecret: "s", AppToken: "app-1", TableID: "nope"},
	}
	for name, opts := range cases {
		res := New(opts, zerolog.Nop()).Fetch(t.Context())
		if res.Source != "empty" || res.Records == nil || len(res.Records) != 0 {
			t.Fatalf("%s: expected empty result, got %+v", name, res)
		}
	}
}

func TestFetchMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	res := New(Options{BaseURL: srv.URL, AppID: "a", AppSecret: "b", AppToken: "x", TableID: "t"}, zerolog.Nop()).Fetch(t.Context())
	if res.Source != "empty" {
		t.Fatalf("malformed body should yield empty, got %+v", res)
	}
}
