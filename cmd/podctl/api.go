package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

var apiClient = &http.Client{Timeout: 30 * time.Second}

// getJSON fetches a control API endpoint and decodes the body.
func getJSON(path string, out any) error {
	resp, err := apiClient.Get(apiAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s: %s", path, resp.Status, bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// postJSON posts a command, tolerating nil bodies, and reports API failures
// as errors.
func postJSON(path string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := apiClient.Post(apiAddr+path, "application/json", &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var res struct {
		OK    bool   `json:"ok"`
		NoOp  bool   `json:"noop"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("%s: %s", path, resp.Status)
	}
	if !res.OK {
		return fmt.Errorf("%s: %s", path, res.Error)
	}
	if res.NoOp {
		fmt.Println("(no-op)")
	}
	return nil
}
