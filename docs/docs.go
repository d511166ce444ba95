// Package docs : сгенерированная спецификация Swagger
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/auth": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Authentication"],
                "summary": "Аутентификация пользователя",
                "responses": {
                    "200": {"description": "Успешная аутентификация"},
                    "400": {"description": "Некорректный JSON или пустые поля"},
                    "401": {"description": "Неверный логин или пароль"},
                    "429": {"description": "Превышен лимит попыток"}
                }
            }
        },
        "/api/auth/refresh": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Authentication"],
                "summary": "Ротация пары токенов",
                "responses": {
                    "200": {"description": "Новая пара токенов"},
                    "401": {"description": "Не удалось обновить токены"}
                }
            }
        },
        "/api/auth/logout": {
            "delete": {
                "produces": ["application/json"],
                "tags": ["Authentication"],
                "summary": "Завершение авторизованной сессии",
                "security": [{"ApiKeyAuth": []}],
                "responses": {
                    "200": {"description": "Сессия завершена"},
                    "401": {"description": "Невалидный токен"}
                }
            }
        },
        "/api/auth/revoke-all": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Authentication"],
                "summary": "Отзыв всех сессий пользователя",
                "security": [{"ApiKeyAuth": []}],
                "responses": {
                    "200": {"description": "Все сессии отозваны"},
                    "401": {"description": "Не авторизован"}
                }
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "",
	Schemes:          []string{},
	Title:            "Realtime-chat-server",
	Description:      "Сервис жизненного цикла токенов и шлюз постоянных соединений чата",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
