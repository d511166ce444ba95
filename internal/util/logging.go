package util

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"realtime-chat-server/internal/model/requestresponse"
)

// LogError логирует ошибку и возвращает её обернутой для вызывающей стороны
func LogError(message string, err error) error {
	log.Printf("%s: %v", message, err)
	return fmt.Errorf("%s: %w", message, err)
}

// HandleError отвечает телом ошибки в общем для сервиса формате.
// Используется вне chi-хендлеров, например при отказе в handshake
func HandleError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(requestresponse.ErrorResponse{Error: message}); err != nil {
		log.Printf("ошибка кодирования тела ошибки: %v", err)
	}
}
