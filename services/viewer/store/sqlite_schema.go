// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

// Snapshot uniqueness rides on key_ts ("app:rank:created_at" and
// "fid:created_at"); re-ingesting the same logical identity at a new timestamp
// always creates a new row. The retention sweep, not insertion, enforces the
// one-current-row invariant.
const statsSchema = `
CREATE TABLE IF NOT EXISTS anomaly_stats (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    app INTEGER NOT NULL,
    "rank" INTEGER NOT NULL,
    key TEXT NOT NULL,
    key_ts TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    accumulate REAL NOT NULL DEFAULT 0,
    minimum REAL NOT NULL DEFAULT 0,
    maximum REAL NOT NULL DEFAULT 0,
    mean REAL NOT NULL DEFAULT 0,
    stddev REAL NOT NULL DEFAULT 0,
    skewness REAL NOT NULL DEFAULT 0,
    kurtosis REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_anomaly_stats_identity ON anomaly_stats(app, "rank", created_at);

CREATE TABLE IF NOT EXISTS anomaly_data (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    app INTEGER NOT NULL,
    "rank" INTEGER NOT NULL,
    step INTEGER NOT NULL,
    min_timestamp INTEGER NOT NULL,
    max_timestamp INTEGER NOT NULL,
    n_anomalies INTEGER NOT NULL,
    stat_id INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_anomaly_data_identity ON anomaly_data(app, "rank", step);
CREATE INDEX IF NOT EXISTS idx_anomaly_data_max_ts ON anomaly_data(max_timestamp);

CREATE TABLE IF NOT EXISTS func_stats (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    fid INTEGER NOT NULL,
    name TEXT NOT NULL,
    key_ts TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL,
    a_count INTEGER NOT NULL DEFAULT 0,
    a_accumulate REAL NOT NULL DEFAULT 0,
    a_minimum REAL NOT NULL DEFAULT 0,
    a_maximum REAL NOT NULL DEFAULT 0,
    a_mean REAL NOT NULL DEFAULT 0,
    a_stddev REAL NOT NULL DEFAULT 0,
    a_skewness REAL NOT NULL DEFAULT 0,
    a_kurtosis REAL NOT NULL DEFAULT 0,
    i_count INTEGER NOT NULL DEFAULT 0,
    i_accumulate REAL NOT NULL DEFAULT 0,
    i_minimum REAL NOT NULL DEFAULT 0,
    i_maximum REAL NOT NULL DEFAULT 0,
    i_mean REAL NOT NULL DEFAULT 0,
    i_stddev REAL NOT NULL DEFAULT 0,
    i_skewness REAL NOT NULL DEFAULT 0,
    i_kurtosis REAL NOT NULL DEFAULT 0,
    e_count INTEGER NOT NULL DEFAULT 0,
    e_accumulate REAL NOT NULL DEFAULT 0,
    e_minimum REAL NOT NULL DEFAULT 0,
    e_maximum REAL NOT NULL DEFAULT 0,
    e_mean REAL NOT NULL DEFAULT 0,
    e_stddev REAL NOT NULL DEFAULT 0,
    e_skewness REAL NOT NULL DEFAULT 0,
    e_kurtosis REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_func_stats_identity ON func_stats(fid, created_at);

CREATE TABLE IF NOT EXISTS stat_queries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    n_queries INTEGER NOT NULL,
    stat_kind TEXT NOT NULL,
    ranks TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stat_queries_created ON stat_queries(created_at);
`

// exec_data and comm_data are bulk-inserted without foreign keys; comm rows
// associate to spans by execdata_key only.
const executionSchema = `
CREATE TABLE IF NOT EXISTS exec_data (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL,
    name TEXT NOT NULL,
    pid INTEGER NOT NULL,
    rid INTEGER NOT NULL,
    tid INTEGER NOT NULL,
    fid INTEGER NOT NULL,
    entry INTEGER NOT NULL,
    exit INTEGER NOT NULL,
    runtime INTEGER NOT NULL,
    exclusive INTEGER NOT NULL,
    label INTEGER NOT NULL,
    parent TEXT NOT NULL DEFAULT '',
    n_children INTEGER NOT NULL DEFAULT 0,
    n_messages INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_exec_data_entry ON exec_data(entry);
CREATE INDEX IF NOT EXISTS idx_exec_data_process ON exec_data(pid, rid);
CREATE INDEX IF NOT EXISTS idx_exec_data_key ON exec_data(key);

CREATE TABLE IF NOT EXISTS comm_data (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    execdata_key TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    pid INTEGER NOT NULL,
    rid INTEGER NOT NULL,
    tid INTEGER NOT NULL,
    src INTEGER NOT NULL,
    tar INTEGER NOT NULL,
    bytes INTEGER NOT NULL,
    tag INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    fid INTEGER NOT NULL,
    name TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_comm_data_exec_key ON comm_data(execdata_key);
`
