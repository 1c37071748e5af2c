// Command smoke drives one election through a running API: register, upload
// tallies, preview, enqueue a persisted run and wait for its national results.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	config "seatengine/configs"
	"seatengine/pkg/auth"
	"seatengine/pkg/logger"
	"seatengine/pkg/models"
)

type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *client) do(method, path string, body any, want int, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, data)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "API base URL")
	timeout := flag.Duration("timeout", 2*time.Minute, "how long to wait for the run")
	flag.Parse()

	log := logger.Get()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	jwtSvc, err := auth.NewJWTService(auth.DefaultJWTConfig(cfg.JWTSecret))
	if err != nil {
		log.Fatal("JWT_SECRET is required to mint a smoke token", zap.Error(err))
	}
	token, err := jwtSvc.GenerateToken("smoke", "smoke", auth.RoleCommissioner)
	if err != nil {
		log.Fatal("Failed to mint token", zap.Error(err))
	}
	c := &client{baseURL: *baseURL + "/api/v1", token: token, http: &http.Client{Timeout: 30 * time.Second}}

	electionID := "smoke-" + uuid.NewString()[:8]
	election := models.Election{
		ID:   electionID,
		Name: "Smoke " + electionID,
		Type: models.ElectionTypeLegislative,
		Districts: []models.District{
			{ID: "D1", TotalSeats: 3},
			{ID: "D2", TotalSeats: 5, ReservedSeats: 1},
		},
		Entities: []models.Entity{{ID: "A"}, {ID: "B"}, {ID: "C"}},
	}
	if err := c.do(http.MethodPost, "/elections", election, http.StatusCreated, nil); err != nil {
		log.Fatal("Failed to register election", zap.Error(err))
	}
	log.Info("Election registered", zap.String("election_id", electionID))

	tallies := models.NewTallies()
	for district, votes := range map[string]map[string]int64{
		"D1": {"A": 5000, "B": 3000, "C": 2000},
		"D2": {"A": 8000, "B": 7000, "C": 5000},
	} {
		for entity, v := range votes {
			tallies.Add(district, entity, v)
			tallies.TotalValidPerDistrict[district] += v
			tallies.TotalValidNational += v
		}
	}
	if err := c.do(http.MethodPut, "/elections/"+electionID+"/tallies", tallies, http.StatusOK, nil); err != nil {
		log.Fatal("Failed to upload tallies", zap.Error(err))
	}
	log.Info("Tallies uploaded")

	var preview struct {
		Digest string `json:"inputs_digest"`
	}
	if err := c.do(http.MethodPost, "/elections/"+electionID+"/compute", map[string]string{"method": "standard"}, http.StatusOK, &preview); err != nil {
		log.Fatal("Preview computation failed", zap.Error(err))
	}
	log.Info("Preview computed", zap.String("inputs_digest", preview.Digest))

	var accepted struct {
		RunID string `json:"run_id"`
	}
	if err := c.do(http.MethodPost, "/elections/"+electionID+"/runs", map[string]string{"method": "standard"}, http.StatusAccepted, &accepted); err != nil {
		log.Fatal("Failed to enqueue run", zap.Error(err))
	}
	log.Info("Run enqueued", zap.String("run_id", accepted.RunID))

	deadline := time.Now().Add(*timeout)
	var run models.ComputationRun
	for {
		if err := c.do(http.MethodGet, "/elections/"+electionID+"/runs/"+accepted.RunID, nil, http.StatusOK, &run); err != nil {
			log.Fatal("Failed to poll run", zap.Error(err))
		}
		if run.Status != models.RunPending && run.Status != models.RunRunning {
			break
		}
		if time.Now().After(deadline) {
			log.Fatal("Run did not finish in time", zap.String("status", string(run.Status)))
		}
		time.Sleep(time.Second)
	}
	if run.Status != models.RunSucceeded {
		log.Fatal("Run did not succeed", zap.String("status", string(run.Status)), zap.String("error", run.Error))
	}
	if run.InputsDigest != preview.Digest {
		log.Warn("Run digest differs from preview", zap.String("run", run.InputsDigest))
	}

	var national struct {
		Results []models.SeatResult `json:"results"`
	}
	if err := c.do(http.MethodGet, "/elections/"+electionID+"/results?level=NATIONAL", nil, http.StatusOK, &national); err != nil {
		log.Fatal("Failed to fetch results", zap.Error(err))
	}
	total := 0
	for _, r := range national.Results {
		total += r.OrdinarySeats + r.ReservedSeats
		log.Info("National seats", zap.String("entity_id", r.EntityID), zap.Int("seats", r.OrdinarySeats+r.ReservedSeats))
	}
	log.Info("Smoke test passed", zap.Int("seats", total), zap.String("archive_uri", run.ArchiveURI))
}
