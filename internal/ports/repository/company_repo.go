package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"payroll.service/internal/core/model"
)

// PostgresCompanyRepository reads company payroll configuration from PostgreSQL.
type PostgresCompanyRepository struct {
	DB *sql.DB
}

// NewCompanyRepository creates a new company repository instance.
func NewCompanyRepository(db *sql.DB) CompanyRepository {
	return &PostgresCompanyRepository{DB: db}
}

const companyColumns = `id, name, employer_id, payment_cycle, bonus_rate_multiplier,
	max_daily_hours, merchant_key, is_active`

// GetByID fetches one company.
func (r *PostgresCompanyRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id = $1`
	c, err := scanCompany(r.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// GetByEmployer resolves the company an employer account owns, or nil.
func (r *PostgresCompanyRepository) GetByEmployer(ctx context.Context, employerID uuid.UUID) (*model.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE employer_id = $1`
	c, err := scanCompany(r.DB.QueryRowContext(ctx, query, employerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// FindActiveByCycle returns the active companies on a payment cycle, for the
// scheduled payroll runs.
func (r *PostgresCompanyRepository) FindActiveByCycle(ctx context.Context, cycle model.PaymentCycle) ([]model.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE payment_cycle = $1 AND is_active ORDER BY name`

	rows, err := r.DB.QueryContext(ctx, query, cycle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		companies = append(companies, *c)
	}
	return companies, rows.Err()
}

func scanCompany(row rowScanner) (*model.Company, error) {
	c := &model.Company{}
	err := row.Scan(&c.ID, &c.Name, &c.EmployerID, &c.PaymentCycle,
		&c.BonusRateMultiplier, &c.MaxDailyHours, &c.MerchantKey, &c.IsActive)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// PostgresEmployeeRepository reads employee payee data from PostgreSQL.
type PostgresEmployeeRepository struct {
	DB *sql.DB
}

// NewEmployeeRepository creates a new employee repository instance.
func NewEmployeeRepository(db *sql.DB) EmployeeRepository {
	return &PostgresEmployeeRepository{DB: db}
}

const employeeColumns = `id, company_id, name, email, hourly_rate, telebirr_msisdn, is_active`

// GetByID fetches one employee.
func (r *PostgresEmployeeRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE id = $1`
	e, err := scanEmployee(r.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// FindActiveByCompany returns the employees payroll considers.
func (r *PostgresEmployeeRepository) FindActiveByCompany(ctx context.Context, companyID uuid.UUID) ([]model.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE company_id = $1 AND is_active ORDER BY name`

	rows, err := r.DB.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []model.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, *e)
	}
	return employees, rows.Err()
}

func scanEmployee(row rowScanner) (*model.Employee, error) {
	e := &model.Employee{}
	var msisdn sql.NullString
	err := row.Scan(&e.ID, &e.CompanyID, &e.Name, &e.Email, &e.HourlyRate, &msisdn, &e.IsActive)
	if err != nil {
		return nil, err
	}
	e.TelebirrMSISDN = msisdn.String
	return e, nil
}
