// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

//go:build tools

// Package main pins test dependencies that are only reached from
// build-tagged suites, so go mod tidy keeps them without the tag.
package main

import (
	_ "github.com/onsi/ginkgo/v2"
	_ "github.com/onsi/gomega"
	_ "github.com/testcontainers/testcontainers-go"
	_ "github.com/testcontainers/testcontainers-go/modules/postgres"
)
