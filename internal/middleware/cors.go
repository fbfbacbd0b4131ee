// Package middleware содержит HTTP middleware сервиса adwheel.
package middleware

import "net/http"

// CORS разрешает запросы с любого источника методами POST и OPTIONS.
// Preflight-запрос OPTIONS завершается сразу, до маршрутизации.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
