// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

var emailSeq atomic.Int64

func uniqueEmail() string {
	return fmt.Sprintf("typist-%d-%d@example.com", GinkgoParallelProcess(), emailSeq.Add(1))
}

func call(method, path, token string, body any) (int, envelope) {
	GinkgoHelper()
	var payload bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&payload).Encode(body)).To(Succeed())
	}
	req, err := http.NewRequestWithContext(context.Background(), method, env.server.URL+path, &payload)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := env.server.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var out envelope
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return resp.StatusCode, out
}

func data[T any](e envelope) T {
	GinkgoHelper()
	var out T
	Expect(json.Unmarshal(e.Data, &out)).To(Succeed())
	return out
}

type registered struct {
	Message string `json:"message"`
	UserID  int64  `json:"userId"`
	Token   string `json:"token"`
}

type progressView struct {
	CurrentLevel int      `json:"currentLevel"`
	BadgesEarned []string `json:"badgesEarned"`
	WPM          float64  `json:"wpm"`
	LastUpdated  string   `json:"lastUpdated"`
}

func registerUser(email string) registered {
	GinkgoHelper()
	status, body := call(http.MethodPost, "/api/users/register", "", map[string]string{
		"username": "typist", "email": email, "password": "s3cret",
	})
	Expect(status).To(Equal(http.StatusCreated))
	return data[registered](body)
}

var _ = Describe("Account and progress API", func() {
	It("runs the full account and progress flow", func() {
		email := uniqueEmail()
		reg := registerUser(email)
		Expect(reg.UserID).To(BeNumerically(">", 0))
		Expect(reg.Token).NotTo(BeEmpty())

		status, body := call(http.MethodPost, "/api/users/login", "", map[string]string{
			"email": email, "password": "s3cret",
		})
		Expect(status).To(Equal(http.StatusOK))
		token := data[map[string]string](body)["token"]
		Expect(token).NotTo(BeEmpty())

		status, body = call(http.MethodGet, "/api/users/user", token, nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(data[map[string]string](body)).To(Equal(map[string]string{"username": "typist", "email": email}))

		status, body = call(http.MethodGet, "/api/users/userprogress", token, nil)
		Expect(status).To(Equal(http.StatusNotFound))
		Expect(body.Error).To(Equal("progress not found"))

		status, _ = call(http.MethodPost, "/api/users/userprogress", token, map[string]any{
			"currentLevel": 1, "badgesEarned": []string{"starter"}, "wpm": 42.5,
		})
		Expect(status).To(Equal(http.StatusCreated))

		status, body = call(http.MethodGet, "/api/users/userprogress", token, nil)
		Expect(status).To(Equal(http.StatusOK))
		first := data[progressView](body)
		Expect(first.CurrentLevel).To(Equal(1))
		Expect(first.BadgesEarned).To(Equal([]string{"starter"}))
		Expect(first.WPM).To(Equal(42.5))

		status, _ = call(http.MethodPost, "/api/users/userprogress", token, map[string]any{
			"currentLevel": 2, "badgesEarned": []string{"starter", "speedy"}, "wpm": 61,
		})
		Expect(status).To(Equal(http.StatusOK))

		status, body = call(http.MethodGet, "/api/users/userprogress", token, nil)
		Expect(status).To(Equal(http.StatusOK))
		second := data[progressView](body)
		Expect(second.CurrentLevel).To(Equal(2))
		Expect(second.BadgesEarned).To(Equal([]string{"starter", "speedy"}))
		Expect(second.LastUpdated).NotTo(Equal(first.LastUpdated))
	})

	It("rejects a second registration with the same email", func() {
		email := uniqueEmail()
		registerUser(email)

		status, body := call(http.MethodPost, "/api/users/register", "", map[string]string{
			"username": "other", "email": email, "password": "x",
		})
		Expect(status).To(Equal(http.StatusBadRequest))
		Expect(body.Error).To(Equal("email is already registered"))
	})

	It("keeps emails unique across profile updates", func() {
		taken := uniqueEmail()
		registerUser(taken)
		reg := registerUser(uniqueEmail())

		status, body := call(http.MethodPut, "/api/users/user", reg.Token, map[string]string{
			"username": "renamed", "email": taken,
		})
		Expect(status).To(Equal(http.StatusBadRequest))
		Expect(body.Error).To(Equal("email is already registered"))

		fresh := uniqueEmail()
		status, _ = call(http.MethodPut, "/api/users/user", reg.Token, map[string]string{
			"username": "renamed", "email": fresh,
		})
		Expect(status).To(Equal(http.StatusOK))

		status, body = call(http.MethodGet, "/api/users/user", reg.Token, nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(data[map[string]string](body)["email"]).To(Equal(fresh))
	})

	It("leaves exactly one progress record under concurrent first submissions", func() {
		reg := registerUser(uniqueEmail())

		var wg sync.WaitGroup
		statuses := make(chan int, 8)
		for i := range 8 {
			wg.Add(1)
			go func(level int) {
				defer GinkgoRecover()
				defer wg.Done()
				status, _ := call(http.MethodPost, "/api/users/userprogress", reg.Token, map[string]any{
					"currentLevel": level, "badgesEarned": []string{}, "wpm": 30,
				})
				statuses <- status
			}(i + 1)
		}
		wg.Wait()
		close(statuses)

		created := 0
		for status := range statuses {
			Expect(status).To(BeElementOf(http.StatusCreated, http.StatusOK))
			if status == http.StatusCreated {
				created++
			}
		}
		Expect(created).To(Equal(1))

		var rows int
		Expect(env.pool.QueryRow(context.Background(),
			"SELECT count(*) FROM user_progress WHERE user_id = $1", reg.UserID).Scan(&rows)).To(Succeed())
		Expect(rows).To(Equal(1))
	})

	It("refuses protected routes without a valid token", func() {
		status, body := call(http.MethodGet, "/api/users/userprogress", "", nil)
		Expect(status).To(Equal(http.StatusUnauthorized))
		Expect(body.Error).To(Equal("token not provided"))

		status, body = call(http.MethodGet, "/api/users/userprogress", "not-a-jwt", nil)
		Expect(status).To(Equal(http.StatusForbidden))
		Expect(body.Error).To(Equal("invalid or expired token"))
	})
})
