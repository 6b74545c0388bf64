// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anomview/AnomView/services/viewer/msgstats"
)

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetMsgStats exposes the in-process message-size statistics. With a key
// parameter it returns that bucket's snapshot (404 when the bucket does not
// exist); without one it lists the tracked keys.
func GetMsgStats(acc *msgstats.Accumulator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Query("key")
		if key == "" {
			c.JSON(http.StatusOK, gin.H{"keys": acc.Keys()})
			return
		}

		snap, ok := acc.SnapshotOf(key)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown key"})
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}
