package telemetry

import (
	"database/sql"
	"fmt"
	"sort"

	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"
)

// SQLiteMonitor stores every snapshot in a SQLite database, one table per
// entity kind. On close it appends a run_summary row with the total battery
// capacity and the total carbon emitted, so runs with different battery
// sizes can be compared from one file.
type SQLiteMonitor struct {
	db *sql.DB

	last      int64
	hosts     map[string]bool
	capacity  map[string]float64 // battery ID -> J
	carbon    map[string]float64 // source ID -> gCO2
	energy    map[string]float64 // source ID -> J
	completed int
	failed    int
}

// OpenSQLiteMonitor creates or opens the database at path in WAL mode and
// applies the schema.
func OpenSQLiteMonitor(path string) (*SQLiteMonitor, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer
	m := &SQLiteMonitor{
		db:       db,
		hosts:    make(map[string]bool),
		capacity: make(map[string]float64),
		carbon:   make(map[string]float64),
		energy:   make(map[string]float64),
	}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}

// DB returns the underlying database handle.
func (m *SQLiteMonitor) DB() *sql.DB { return m.db }

// migrate runs idempotent schema migrations.
func (m *SQLiteMonitor) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS host_metrics (
			timestamp          INTEGER NOT NULL,
			host_id            TEXT NOT NULL,
			host_name          TEXT NOT NULL,
			cluster            TEXT NOT NULL,
			tasks_active       INTEGER NOT NULL,
			cpu_capacity       REAL NOT NULL,
			cpu_demand         REAL NOT NULL,
			cpu_usage          REAL NOT NULL,
			cpu_utilization    REAL NOT NULL,
			cpu_active_time    INTEGER NOT NULL,
			cpu_idle_time      INTEGER NOT NULL,
			granted_work       REAL NOT NULL,
			overcommitted_work REAL NOT NULL,
			power_draw         REAL NOT NULL,
			energy_usage       REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_host_metrics_ts ON host_metrics(timestamp)`,
		`CREATE TABLE IF NOT EXISTS power_source_metrics (
			timestamp        INTEGER NOT NULL,
			source_id        TEXT NOT NULL,
			cluster          TEXT NOT NULL,
			power_demand     REAL NOT NULL,
			power_draw       REAL NOT NULL,
			carbon_intensity REAL NOT NULL,
			energy_usage     REAL NOT NULL,
			carbon_emission  REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS battery_metrics (
			timestamp        INTEGER NOT NULL,
			battery_id       TEXT NOT NULL,
			cluster          TEXT NOT NULL,
			state            TEXT NOT NULL,
			green_energy     BOOLEAN NOT NULL,
			charge_level     REAL NOT NULL,
			power_draw       REAL NOT NULL,
			energy_delivered REAL NOT NULL,
			energy_charged   REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS service_metrics (
			timestamp       INTEGER NOT NULL,
			tasks_total     INTEGER NOT NULL,
			tasks_pending   INTEGER NOT NULL,
			tasks_active    INTEGER NOT NULL,
			tasks_completed INTEGER NOT NULL,
			tasks_failed    INTEGER NOT NULL,
			jobs_active     INTEGER NOT NULL,
			jobs_finished   INTEGER NOT NULL,
			jobs_failed     INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_summary (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			finished_at      INTEGER NOT NULL,
			hosts            INTEGER NOT NULL,
			battery_capacity REAL NOT NULL,
			total_energy     REAL NOT NULL,
			total_carbon     REAL NOT NULL,
			tasks_completed  INTEGER NOT NULL,
			tasks_failed     INTEGER NOT NULL
		)`,
	}
	for _, stmt := range migrations {
		if _, err := m.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

// RecordHost implements Monitor.
func (m *SQLiteMonitor) RecordHost(s HostSnapshot) error {
	m.observe(s.Timestamp)
	m.hosts[s.HostID] = true
	_, err := m.db.Exec(
		`INSERT INTO host_metrics (timestamp, host_id, host_name, cluster, tasks_active,
			cpu_capacity, cpu_demand, cpu_usage, cpu_utilization, cpu_active_time, cpu_idle_time,
			granted_work, overcommitted_work, power_draw, energy_usage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Timestamp, s.HostID, s.HostName, s.Cluster, s.TasksActive,
		s.CPUCapacity, s.CPUDemand, s.CPUUsage, s.CPUUtilization, s.CPUActiveTime, s.CPUIdleTime,
		s.GrantedWork, s.OvercommittedWork, s.PowerDraw, s.EnergyUsage,
	)
	if err != nil {
		return fmt.Errorf("insert host metrics: %w", err)
	}
	return nil
}

// RecordPowerSource implements Monitor.
func (m *SQLiteMonitor) RecordPowerSource(s PowerSourceSnapshot) error {
	m.observe(s.Timestamp)
	m.carbon[s.SourceID] = s.CarbonTotal
	m.energy[s.SourceID] = s.EnergyTotal
	_, err := m.db.Exec(
		`INSERT INTO power_source_metrics (timestamp, source_id, cluster, power_demand,
			power_draw, carbon_intensity, energy_usage, carbon_emission)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Timestamp, s.SourceID, s.Cluster, s.PowerDemand,
		s.PowerDraw, s.CarbonIntensity, s.EnergyUsage, s.CarbonEmission,
	)
	if err != nil {
		return fmt.Errorf("insert power source metrics: %w", err)
	}
	return nil
}

// RecordBattery implements Monitor.
func (m *SQLiteMonitor) RecordBattery(s BatterySnapshot) error {
	m.observe(s.Timestamp)
	m.capacity[s.BatteryID] = s.Capacity
	_, err := m.db.Exec(
		`INSERT INTO battery_metrics (timestamp, battery_id, cluster, state, green_energy,
			charge_level, power_draw, energy_delivered, energy_charged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Timestamp, s.BatteryID, s.Cluster, s.State, s.GreenEnergy,
		s.ChargeLevel, s.PowerDraw, s.EnergyDelivered, s.EnergyCharged,
	)
	if err != nil {
		return fmt.Errorf("insert battery metrics: %w", err)
	}
	return nil
}

// RecordService implements Monitor.
func (m *SQLiteMonitor) RecordService(s ServiceSnapshot) error {
	m.observe(s.Timestamp)
	m.completed = s.TasksCompleted
	m.failed = s.TasksFailed
	_, err := m.db.Exec(
		`INSERT INTO service_metrics (timestamp, tasks_total, tasks_pending, tasks_active,
			tasks_completed, tasks_failed, jobs_active, jobs_finished, jobs_failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Timestamp, s.TasksTotal, s.TasksPending, s.TasksActive,
		s.TasksCompleted, s.TasksFailed, s.JobsActive, s.JobsFinished, s.JobsFailed,
	)
	if err != nil {
		return fmt.Errorf("insert service metrics: %w", err)
	}
	return nil
}

func (m *SQLiteMonitor) observe(now int64) {
	if now > m.last {
		m.last = now
	}
}

// Close writes the run summary and closes the database.
func (m *SQLiteMonitor) Close() error {
	_, err := m.db.Exec(
		`INSERT INTO run_summary (finished_at, hosts, battery_capacity, total_energy,
			total_carbon, tasks_completed, tasks_failed)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.last, len(m.hosts), sum(m.capacity), sum(m.energy),
		sum(m.carbon), m.completed, m.failed,
	)
	if cerr := m.db.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("closing sqlite monitor: %w", err)
	}
	return nil
}

// sum adds the values in key order so totals do not depend on map order.
func sum(m map[string]float64) float64 {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	total := 0.0
	for _, k := range keys {
		total += m[k]
	}
	return total
}
