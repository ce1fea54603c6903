//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

// Command chatcli is a terminal client for the gateway. It creates a
// session, sends each input line as a message and renders the SSE event
// stream inline, including tool call activity.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/casperx6/data-agent/event"
)

func main() {
	gateway := flag.String("gateway", "http://localhost:8000", "gateway base URL")
	instructions := flag.String("instructions", "", "system instructions for the session")
	flag.Parse()

	client := &client{
		baseURL: strings.TrimRight(*gateway, "/"),
		http:    &http.Client{},
	}

	sessionID, err := client.createSession(*instructions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create session: %v\n", err)
		os.Exit(1)
	}
	defer client.deleteSession(sessionID)

	fmt.Printf("session %s ready, type a message (ctrl-d to quit)\n", sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := client.sendMessage(sessionID, line); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			continue
		}
		if err := client.streamResponse(sessionID); err != nil {
			fmt.Fprintf(os.Stderr, "stream failed: %v\n", err)
		}
	}
	fmt.Println()
}

type client struct {
	baseURL string
	http    *http.Client
}

func (c *client) createSession(instructions string) (string, error) {
	body, _ := json.Marshal(map[string]string{"instructions": instructions})
	resp, err := c.http.Post(c.baseURL+"/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", err
	}
	return created.SessionID, nil
}

func (c *client) deleteSession(id string) {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/sessions/"+id, nil)
	if err != nil {
		return
	}
	if resp, err := c.http.Do(req); err == nil {
		resp.Body.Close()
	}
}

func (c *client) sendMessage(id, message string) error {
	body, _ := json.Marshal(map[string]string{"message": message})
	resp, err := c.http.Post(c.baseURL+"/sessions/"+id+"/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// streamResponse renders the SSE stream until the terminal event.
func (c *client) streamResponse(id string) error {
	resp, err := c.http.Get(c.baseURL + "/sessions/" + id + "/stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev event.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case event.TypeToken:
			fmt.Print(ev.Content)
		case event.TypeToolCallStarted:
			fmt.Printf("\n[tool %s started]\n", ev.Name)
		case event.TypeToolCall:
			fmt.Printf("[tool %s arguments: %s]\n", ev.Name, ev.Arguments)
		case event.TypeToolResponse:
			fmt.Printf("[tool %s output: %s]\n", ev.Name, ev.Output)
		case event.TypeToolCallFinished:
			fmt.Printf("[tool %s finished]\n", ev.Name)
		case event.TypeCompletion:
			fmt.Println()
			return nil
		case event.TypeError:
			fmt.Printf("\n[error: %s]\n", ev.Message)
			return nil
		}
	}
	return scanner.Err()
}
