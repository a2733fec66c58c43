package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"vitalguard-alarm/internal/models"

	"go.uber.org/zap"
)

// PatientRepository 患者信息仓库（patients 表）
type PatientRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPatientRepository 创建患者仓库
func NewPatientRepository(db *sql.DB, logger *zap.Logger) *PatientRepository {
	return &PatientRepository{
		db:     db,
		logger: logger,
	}
}

const patientsSchema = `
	CREATE TABLE IF NOT EXISTS patients (
		patient_id    TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		bed           TEXT,
		admitted_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		discharged_at TIMESTAMPTZ
	);
`

// EnsureSchema 建表（已存在则跳过）
func (r *PatientRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, patientsSchema); err != nil {
		return fmt.Errorf("failed to create patients table: %w", err)
	}
	return nil
}

// SeedPatients 写入初始患者（已存在的跳过），返回新增数量
func (r *PatientRepository) SeedPatients(ctx context.Context, patients []models.PatientMeta) (int, error) {
	query := `
		INSERT INTO patients (patient_id, name, bed)
		VALUES ($1, $2, $3)
		ON CONFLICT (patient_id) DO NOTHING
	`

	inserted := 0
	for _, p := range patients {
		res, err := r.db.ExecContext(ctx, query, p.PatientID, p.Name, nullString(p.Bed))
		if err != nil {
			return inserted, fmt.Errorf("failed to seed patient %s: %w", p.PatientID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if inserted > 0 {
		r.logger.Info("Seeded patients",
			zap.Int("inserted", inserted),
		)
	}
	return inserted, nil
}

// GetPatientMeta 获取患者姓名和床位
func (r *PatientRepository) GetPatientMeta(ctx context.Context, patientID string) (models.PatientMeta, error) {
	if patientID == "" {
		return models.PatientMeta{}, fmt.Errorf("patient_id is required")
	}

	query := `
		SELECT patient_id, name, COALESCE(bed, '')
		FROM patients
		WHERE patient_id = $1
	`

	var meta models.PatientMeta
	err := r.db.QueryRowContext(ctx, query, patientID).Scan(&meta.PatientID, &meta.Name, &meta.Bed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PatientMeta{}, fmt.Errorf("patient %s: %w", patientID, models.ErrUnknownPatient)
		}
		return models.PatientMeta{}, fmt.Errorf("failed to get patient: %w", err)
	}
	return meta, nil
}

// ListPatientIDs 获取在院患者列表
func (r *PatientRepository) ListPatientIDs(ctx context.Context) ([]string, error) {
	query := `
		SELECT patient_id
		FROM patients
		WHERE discharged_at IS NULL
		ORDER BY patient_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patients: %w", err)
	}
	return ids, nil
}

// StaticPatientDirectory 内置患者名册（数据库未启用时使用）
type StaticPatientDirectory struct {
	patients map[string]models.PatientMeta
}

// DefaultPatients ICU 演示病区的 8 位患者
func DefaultPatients() []models.PatientMeta {
	return []models.PatientMeta{
		{PatientID: "P001", Name: "Arjun Mehta", Bed: "B01"},
		{PatientID: "P002", Name: "Priya Sharma", Bed: "B02"},
		{PatientID: "P003", Name: "Ravi Kumar", Bed: "B03"},
		{PatientID: "P004", Name: "Seetha Nair", Bed: "B04"},
		{PatientID: "P005", Name: "Karthik Bose", Bed: "B05"},
		{PatientID: "P006", Name: "Meena Pillai", Bed: "B06"},
		{PatientID: "P007", Name: "Vijay Reddy", Bed: "B07"},
		{PatientID: "P008", Name: "Anitha Joseph", Bed: "B08"},
	}
}

// NewStaticPatientDirectory 创建内置名册
func NewStaticPatientDirectory(patients []models.PatientMeta) *StaticPatientDirectory {
	d := &StaticPatientDirectory{patients: make(map[string]models.PatientMeta, len(patients))}
	for _, p := range patients {
		d.patients[p.PatientID] = p
	}
	return d
}

// GetPatientMeta 获取患者姓名和床位
func (d *StaticPatientDirectory) GetPatientMeta(_ context.Context, patientID string) (models.PatientMeta, error) {
	meta, ok := d.patients[patientID]
	if !ok {
		return models.PatientMeta{}, fmt.Errorf("patient %s: %w", patientID, models.ErrUnknownPatient)
	}
	return meta, nil
}

// ListPatientIDs 按 ID 排序返回名册
func (d *StaticPatientDirectory) ListPatientIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(d.patients))
	for id := range d.patients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
