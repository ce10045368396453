// Package test holds shared helpers for package tests: an in-memory DOCX
// builder and a mock chat-completions server speaking the OpenAI wire shape
// used by OpenRouter.
package test

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// docxBoilerplate are the archive entries every minimal DOCX needs besides
// word/document.xml.
var docxBoilerplate = map[string]string{
	"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`,
	"_rels/.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/></Relationships>`,
}

// BuildDocx wraps a document body (the content of <w:body>) into a complete
// in-memory DOCX archive.
func BuildDocx(body string) []byte {
	xml := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body +
		`</w:body></w:document>`
	return BuildDocxRaw(xml)
}

// BuildDocxRaw builds an archive around a complete document.xml payload.
func BuildDocxRaw(documentXML string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"[Content_Types].xml": docxBoilerplate["[Content_Types].xml"],
		"_rels/.rels":         docxBoilerplate["_rels/.rels"],
		"word/document.xml":   documentXML,
	} {
		w, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// MockChatServer fakes the chat completions endpoint. Responder receives the
// system and user message and returns the assistant content; a nil Responder
// echoes the user message. StatusCode overrides the response status when
// non-zero.
type MockChatServer struct {
	Server     *httptest.Server
	URL        string
	Responder  func(system, user string) string
	StatusCode int

	mu       sync.Mutex
	requests int
}

// NewMockChatServer starts the server; callers must Close it.
func NewMockChatServer() *MockChatServer {
	m := &MockChatServer{}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	m.URL = m.Server.URL
	return m
}

// Close shuts the server down.
func (m *MockChatServer) Close() {
	m.Server.Close()
}

// Requests returns how many completions were served.
func (m *MockChatServer) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

func (m *MockChatServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests++
	status := m.StatusCode
	responder := m.Responder
	m.mu.Unlock()

	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "bad request", "type": "invalid_request_error"}}`)
		return
	}

	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		fmt.Fprint(w, `{"error": {"message": "mock failure", "type": "server_error"}}`)
		return
	}

	var system, user string
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = msg.Content
		case "user":
			user = msg.Content
		}
	}
	content := user
	if responder != nil {
		content = responder(system, user)
	}

	resp := map[string]any{
		"id":      "chatcmpl-mock",
		"object":  "chat.completion",
		"model":   req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
