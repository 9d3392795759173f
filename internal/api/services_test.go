package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/p8labs/dockless/internal/node"
	"github.com/p8labs/dockless/internal/runtime"
)

func TestDeriveID(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"My Svc", "my-svc"},
		{"api--service", "api--service"},
		{"foo_bar", "foobar"},
		{"  leading and trailing  ", "leading-and-trailing"},
		{"Tabs\tAnd\nNewlines", "tabs-and-newlines"},
	}
	for _, c := range cases {
		if got := deriveID(c.name); got != c.want {
			t.Errorf("deriveID(%q) = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestInitListGetService(t *testing.T) {
	_, _, client := setupTestServer(t)

	body, _ := json.Marshal(map[string]any{"name": "My Svc"})
	resp, err := client.Post("http://dockless/api/services/init", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST init: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created initResponse
	decodeJSON(t, resp, &created)
	if created.ID != "my-svc" {
		t.Errorf("id = %q, want my-svc", created.ID)
	}
	if created.Port < 8100 || created.Port > 8999 {
		t.Errorf("port %d outside configured range", created.Port)
	}

	// Duplicate name/id should be rejected.
	resp2, err := client.Post("http://dockless/api/services/init", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST init duplicate: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for duplicate service, got %d", resp2.StatusCode)
	}

	listResp, err := client.Get("http://dockless/api/services")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	var summaries []serviceSummary
	decodeJSON(t, listResp, &summaries)
	if len(summaries) != 1 || summaries[0].ID != "my-svc" {
		t.Fatalf("unexpected list: %+v", summaries)
	}
	if summaries[0].Ready {
		t.Error("freshly initialized service should not be ready")
	}

	getResp, err := client.Get("http://dockless/api/services/my-svc")
	if err != nil {
		t.Fatalf("GET service: %v", err)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}
	getResp.Body.Close()

	missResp, err := client.Get("http://dockless/api/services/nope")
	if err != nil {
		t.Fatalf("GET missing service: %v", err)
	}
	missResp.Body.Close()
	if missResp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown service, got %d", missResp.StatusCode)
	}
}

func TestStartStopRequiresArtifact(t *testing.T) {
	_, _, client := setupTestServer(t)

	body, _ := json.Marshal(map[string]any{"name": "bare"})
	client.Post("http://dockless/api/services/init", "application/json", bytes.NewReader(body))

	resp, err := client.Post("http://dockless/api/services/bare/start", "application/json", nil)
	if err != nil {
		t.Fatalf("POST start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 starting a not-ready service, got %d", resp.StatusCode)
	}
}

func TestConfigureDoesNotRestartRunningService(t *testing.T) {
	_, n, client := setupTestServer(t)

	created := initAndInstall(t, client, "ticker", "while true; do echo tick; sleep 1; done\n")

	// Installing an artifact restarts the service to pick it up, so it's
	// already running by the time the upload response comes back.
	waitForState(t, n, created.ID, runtime.StateRunning)
	pidBefore := mustService(t, n, created.ID).PID()

	cfgBody, _ := json.Marshal(configureRequest{Env: map[string]string{"FOO": "bar"}, AutoRestart: true})
	cfgResp, err := client.Post("http://dockless/api/services/"+created.ID+"/configure", "application/json", bytes.NewReader(cfgBody))
	if err != nil {
		t.Fatalf("POST configure: %v", err)
	}
	cfgResp.Body.Close()
	if cfgResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from configure, got %d", cfgResp.StatusCode)
	}

	time.Sleep(100 * time.Millisecond)
	pidAfter := mustService(t, n, created.ID).PID()
	if pidBefore != pidAfter {
		t.Errorf("configure restarted the running service: pid %d -> %d", pidBefore, pidAfter)
	}

	n.Manager.Stop(created.ID)
}

func TestDeleteServiceTearsDown(t *testing.T) {
	_, n, client := setupTestServer(t)

	body, _ := json.Marshal(map[string]any{"name": "throwaway"})
	var created initResponse
	resp, _ := client.Post("http://dockless/api/services/init", "application/json", bytes.NewReader(body))
	decodeJSON(t, resp, &created)

	delResp, err := client.Do(mustRequest(t, http.MethodDelete, "http://dockless/api/services/"+created.ID))
	if err != nil {
		t.Fatalf("DELETE service: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", delResp.StatusCode)
	}

	if _, err := n.Registry.Get(created.ID); err == nil {
		t.Error("expected service removed from registry")
	}
	if _, err := n.PortManager.GetPort(created.ID); err == nil {
		t.Error("expected port deallocated")
	}
	if _, err := os.Stat(n.ServiceRoot(created.ID)); !os.IsNotExist(err) {
		t.Errorf("expected service directory removed, stat err = %v", err)
	}
}

func TestListPorts(t *testing.T) {
	_, _, client := setupTestServer(t)

	body, _ := json.Marshal(map[string]any{"name": "porty"})
	var created initResponse
	resp, _ := client.Post("http://dockless/api/services/init", "application/json", bytes.NewReader(body))
	decodeJSON(t, resp, &created)

	portsResp, err := client.Get("http://dockless/api/services/ports")
	if err != nil {
		t.Fatalf("GET ports: %v", err)
	}
	var allocations map[string]int
	decodeJSON(t, portsResp, &allocations)
	if allocations[created.ID] != created.Port {
		t.Errorf("ports[%s] = %d, want %d", created.ID, allocations[created.ID], created.Port)
	}
}

func mustRequest(t *testing.T, method, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	return req
}

// initAndInstall registers a new service named name and uploads a shell
// script (with a shebang line) as its version "1" artifact, through the
// same multipart upload path a real client would use.
func initAndInstall(t *testing.T, client *http.Client, name, scriptBody string) initResponse {
	t.Helper()

	body, _ := json.Marshal(map[string]any{"name": name})
	resp, err := client.Post("http://dockless/api/services/init", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST init: %v", err)
	}
	var created initResponse
	decodeJSON(t, resp, &created)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("version", "1")
	part, err := mw.CreateFormFile("file", "run.sh")
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	part.Write([]byte("#!/bin/sh\n" + scriptBody))
	mw.Close()

	uploadResp, err := client.Post("http://dockless/api/services/"+created.ID+"/artifact/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST upload: %v", err)
	}
	uploadResp.Body.Close()
	if uploadResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from upload, got %d", uploadResp.StatusCode)
	}

	return created
}

func waitForState(t *testing.T, n *node.Node, id string, want runtime.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if svc, err := n.Manager.Get(id); err == nil && svc.State() == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("service %s did not reach state %s within deadline", id, want)
}

func mustService(t *testing.T, n *node.Node, id string) *runtime.Service {
	t.Helper()
	svc, err := n.Manager.Get(id)
	if err != nil {
		t.Fatalf("Manager.Get(%s): %v", id, err)
	}
	return svc
}
