// Package refid mints and resolves the public payment references handed to
// customers. References are salted hashids over the attempt row id so the
// database sequence is not guessable from outside.
package refid

import (
	"errors"
	"fmt"
	"strings"

	hashids "github.com/speps/go-hashids/v2"
)

const prefix = "PAY-"

var ErrInvalidRef = errors.New("invalid payment reference")

type Generator struct {
	h *hashids.HashID
}

func NewGenerator(salt string) (*Generator, error) {
	hd := hashids.NewData()
	hd.Salt = salt
	hd.MinLength = 10
	hd.Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, fmt.Errorf("init hashids: %w", err)
	}
	return &Generator{h: h}, nil
}

func (g *Generator) Encode(id int64) (string, error) {
	s, err := g.h.EncodeInt64([]int64{id})
	if err != nil {
		return "", err
	}
	return prefix + s, nil
}

func (g *Generator) Decode(ref string) (int64, error) {
	body, ok := strings.CutPrefix(ref, prefix)
	if !ok || body == "" {
		return 0, ErrInvalidRef
	}
	ids, err := g.h.DecodeInt64WithError(body)
	if err != nil || len(ids) != 1 {
		return 0, ErrInvalidRef
	}
	return ids[0], nil
}
