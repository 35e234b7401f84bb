//go:build integration

package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const loginPage = `<html><body>
<form method="post" action="/done">
<input type="text" name="user"><input type="password" name="pass">
</form></body></html>`

func TestChromeLoginIntegration(t *testing.T) {
	posted := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			r.ParseForm()
			posted <- r.FormValue("user") + ":" + r.FormValue("pass")
			fmt.Fprint(w, "ok")
			return
		}
		fmt.Fprint(w, loginPage)
	}))
	defer srv.Close()

	a := NewChromeAutomator(LoginOptions{Headless: true, Hold: 2 * time.Second})
	if err := a.Login(context.Background(), srv.URL, "alice", "s3cret"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	select {
	case got := <-posted:
		if got != "alice:s3cret" {
			t.Errorf("posted %q", got)
		}
	default:
		t.Fatal("form was not submitted")
	}
}
