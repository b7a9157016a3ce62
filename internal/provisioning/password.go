package provisioning

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// passwordWords are short Portuguese words that survive being read over the
// phone or typed on a phone keyboard. Three of them plus the current year
// make a password customers actually manage to log in with.
var passwordWords = []string{
	"casa", "mesa", "cafe", "livro", "porta",
	"janela", "carro", "moto", "praia", "sol",
	"lua", "estrela", "flor", "arvore", "verde",
	"azul", "vermelho", "amarelo", "branco", "preto",
	"gato", "cachorro", "passaro", "peixe", "agua",
	"fogo", "terra", "vento", "pedra", "mar",
	"rio", "lago", "montanha", "vale", "cidade",
	"rua", "ponte", "escola", "parque", "jardim",
}

// GeneratePassword returns a readable members-area password in the shape
// "casa-mesa-cafe-2026": three distinct words joined with the current year.
func GeneratePassword() (string, error) {
	picked := make([]string, 0, 3)
	seen := make(map[int]struct{}, 3)
	for len(picked) < 3 {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordWords))))
		if err != nil {
			return "", fmt.Errorf("failed to sample password words: %w", err)
		}
		idx := int(n.Int64())
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		picked = append(picked, passwordWords[idx])
	}

	return strings.Join(picked, "-") + "-" + strconv.Itoa(time.Now().Year()), nil
}

// ValidatePassword reports whether a password has the generated shape:
// three known words and a four-digit year, dash-separated.
func ValidatePassword(password string) bool {
	parts := strings.Split(password, "-")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts[:3] {
		if !isPasswordWord(part) {
			return false
		}
	}
	year := parts[3]
	if len(year) != 4 {
		return false
	}
	for _, r := range year {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isPasswordWord(word string) bool {
	for _, known := range passwordWords {
		if known == word {
			return true
		}
	}
	return false
}
