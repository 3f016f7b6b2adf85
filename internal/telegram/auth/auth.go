// Package auth — интерактивный слой авторизации на базе gotd.
// Терминальный аутентификатор (auth.UserAuthenticator) читает код подтверждения
// и пароль 2FA из консоли. Архиватор работает только с существующим аккаунтом:
// регистрация нового номера не поддерживается.
package auth

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"
)

// TerminalAuthenticator реализует auth.UserAuthenticator поверх stdin/stdout.
// Формат номера не валидируется; ожидается E.164 из конфигурации.
type TerminalAuthenticator struct {
	PhoneNumber string

	reader *bufio.Reader
}

// New собирает аутентификатор для заданного номера.
func New(phoneNumber string) *TerminalAuthenticator {
	return &TerminalAuthenticator{
		PhoneNumber: phoneNumber,
		reader:      bufio.NewReader(os.Stdin),
	}
}

func (t *TerminalAuthenticator) readLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := t.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Phone возвращает номер телефона из конфигурации.
func (t *TerminalAuthenticator) Phone(_ context.Context) (string, error) {
	return t.PhoneNumber, nil
}

// Code запрашивает код подтверждения у пользователя.
func (t *TerminalAuthenticator) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return t.readLine("Enter the code from Telegram: ")
}

// Password считывает пароль 2FA без эха.
func (t *TerminalAuthenticator) Password(_ context.Context) (string, error) {
	fmt.Print("Enter 2FA password: ")
	passwordBytes, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(passwordBytes), nil
}

// AcceptTermsOfService выводит текст условий и запрашивает согласие.
// Принимаются только ответы "y"/"Y".
func (t *TerminalAuthenticator) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	fmt.Printf("Telegram Terms of Service: %s\n", tos.Text)
	resp, err := t.readLine("Do you accept? (y/n): ")
	if err != nil {
		return err
	}
	if resp != "y" && resp != "Y" {
		return errors.New("user did not accept terms of service")
	}
	return nil
}

// SignUp отклоняется: архивировать можно только существующий аккаунт,
// регистрация нового номера через архиватор была бы ошибкой оператора.
func (t *TerminalAuthenticator) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("phone number is not registered, sign up is not supported")
}
