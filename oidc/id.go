// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/tidecloak/tidecloak-go/sdk/id"
)

// NewId generates an ID with an optional prefix (see WithPrefix).  The ID
// generated is suitable for a state or nonce value.
func NewId(opt ...Option) (string, error) {
	const op = "oidc.NewId"
	opts := getIdOpts(opt...)
	newId, err := id.New(opts.withPrefix)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate id: %w", op, ErrIdGeneratorFailed)
	}
	return newId, nil
}
