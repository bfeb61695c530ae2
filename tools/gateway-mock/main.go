// A stand-in for the Arifpay Telebirr B2C API, for local development. It
// accepts session and transfer requests and can post a signed webhook back
// to the API when asked.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

var (
	webhookSecret = flag.String("secret", "dev-secret", "webhook signing secret")
	callbackURL   = flag.String("callback", "", "override callback URL (default: notifyUrl from the session request)")
	outcome       = flag.String("outcome", "SUCCESS", "transactionStatus to report on the webhook")
	delay         = flag.Duration("delay", 2*time.Second, "delay before posting the webhook")
)

type session struct {
	Phonenumber string
	NotifyURL   string
}

var (
	mu       sync.Mutex
	sessions = map[string]session{}
)

func sessionHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount      string `json:"amount"`
		Phonenumber string `json:"phonenumber"`
		Nonce       string `json:"nonce"`
		NotifyURL   string `json:"notifyUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	sessionID := fmt.Sprintf("mock_%d", time.Now().UnixNano())
	mu.Lock()
	sessions[sessionID] = session{Phonenumber: req.Phonenumber, NotifyURL: req.NotifyURL}
	mu.Unlock()

	log.Printf("Session %s created for %s, amount %s", sessionID, req.Phonenumber, req.Amount)
	json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{"sessionId": sessionID, "transactionStatus": "PENDING"},
	})
}

func transferHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sessionid   string `json:"Sessionid"`
		Phonenumber string `json:"Phonenumber"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	mu.Lock()
	sess, ok := sessions[req.Sessionid]
	mu.Unlock()
	if !ok {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}

	log.Printf("Transfer accepted for session %s", req.Sessionid)
	json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{"transactionStatus": "PENDING"},
	})

	go postWebhook(req.Sessionid, sess)
}

func postWebhook(sessionID string, sess session) {
	time.Sleep(*delay)

	target := sess.NotifyURL
	if *callbackURL != "" {
		target = *callbackURL
	}
	if target == "" {
		log.Printf("No callback URL for session %s, skipping webhook", sessionID)
		return
	}

	body, _ := json.Marshal(map[string]any{
		"sessionId":         sessionID,
		"transactionStatus": *outcome,
		"transaction": map[string]any{
			"transactionId":     fmt.Sprintf("TB%d", time.Now().Unix()),
			"transactionStatus": *outcome,
		},
	})

	mac := hmac.New(sha256.New, []byte(*webhookSecret))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		log.Printf("Building webhook request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Arifpay-Signature", signature)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("Posting webhook for session %s: %v", sessionID, err)
		return
	}
	defer resp.Body.Close()
	log.Printf("Webhook for session %s delivered, status %d", sessionID, resp.StatusCode)
}

func main() {
	flag.Parse()

	http.HandleFunc("/Telebirr/b2c/session", sessionHandler)
	http.HandleFunc("/Telebirr/b2c/transfer", transferHandler)

	log.Println("Gateway mock server starting on port 8081...")
	log.Fatal(http.ListenAndServe(":8081", nil))
}
