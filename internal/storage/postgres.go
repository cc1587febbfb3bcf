package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/airbar/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) AddLocation(l models.Location) error {
	if err := l.Validate(); err != nil {
		return err
	}
	_, err := p.db.Exec(`INSERT INTO locations(id, name, city, country, country_code, airport_code, type, lat, lon, timezone, views)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0)`,
		l.ID, l.Name, l.City, l.Country, l.CountryCode, l.AirportCode, l.Type, l.Coord.Lat, l.Coord.Lon, l.Timezone)
	return err
}

func (p *PostgresStore) GetLocation(id string) (models.Location, error) {
	var l models.Location
	err := p.db.QueryRow(`UPDATE locations SET views = views + 1 WHERE id=$1
		RETURNING id, name, city, country, country_code, airport_code, type, lat, lon, timezone`, id).
		Scan(&l.ID, &l.Name, &l.City, &l.Country, &l.CountryCode, &l.AirportCode, &l.Type, &l.Coord.Lat, &l.Coord.Lon, &l.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Location{}, ErrNotFound
	}
	return l, err
}

func (p *PostgresStore) SaveTrip(t *models.Trip) error {
	_, err := p.db.Exec(`INSERT INTO trips(id, traveler_id, origin_id, destination_id, departure_date, arrival_date, return_date,
		space_available, bag_types, status, price_per_kg, acceptable_items, restrictions, views, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		t.ID, t.TravelerID, t.OriginID, t.DestinationID, t.DepartureDate, nullTime(t.ArrivalDate), nullTime(t.ReturnDate),
		t.SpaceAvailable, pq.Array(bagTypeStrings(t.BagTypes)), t.Status, t.PricePerKg,
		pq.Array(t.AcceptableItems), pq.Array(t.Restrictions), t.Views, t.CreatedAt, t.UpdatedAt)
	return err
}

func (p *PostgresStore) GetTrip(id string) (*models.Trip, error) {
	row := p.db.QueryRow(`UPDATE trips SET views = views + 1 WHERE id=$1
		RETURNING id, traveler_id, origin_id, destination_id, departure_date, arrival_date, return_date,
		space_available, bag_types, status, price_per_kg, acceptable_items, restrictions, views, created_at, updated_at`, id)
	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (p *PostgresStore) UpdateTrip(t *models.Trip) error {
	res, err := p.db.Exec(`UPDATE trips SET departure_date=$1, arrival_date=$2, return_date=$3, space_available=$4,
		bag_types=$5, status=$6, price_per_kg=$7, acceptable_items=$8, restrictions=$9, updated_at=now() WHERE id=$10`,
		t.DepartureDate, nullTime(t.ArrivalDate), nullTime(t.ReturnDate), t.SpaceAvailable,
		pq.Array(bagTypeStrings(t.BagTypes)), t.Status, t.PricePerKg, pq.Array(t.AcceptableItems), pq.Array(t.Restrictions), t.ID)
	return rowsErr(res, err)
}

func (p *PostgresStore) SavePackage(k *models.Package) error {
	pw, err := windowJSON(k.PickupWindow)
	if err != nil {
		return err
	}
	dw, err := windowJSON(k.DeliveryWindow)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(`INSERT INTO packages(id, sender_id, origin_id, destination_id, description, weight, declared_value,
		category, fragile, urgent, pickup_address, delivery_address, pickup_window, delivery_window, receiver_name, receiver_phone,
		max_reward, estimated_reward, traditional_cost, savings, status, expires_at, views, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
		k.ID, k.SenderID, k.OriginID, k.DestinationID, k.Description, k.Weight, k.DeclaredValue,
		k.Category, k.Fragile, k.Urgent, k.PickupAddress, k.DeliveryAddress, pw, dw, k.ReceiverName, k.ReceiverPhone,
		k.MaxReward, k.EstimatedReward, k.TraditionalCost, k.Savings, k.Status, k.ExpiresAt, k.Views, k.CreatedAt, k.UpdatedAt)
	return err
}

func (p *PostgresStore) GetPackage(id string) (*models.Package, error) {
	row := p.db.QueryRow(`UPDATE packages SET views = views + 1 WHERE id=$1 RETURNING `+packageCols, id)
	k, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return k, err
}

func (p *PostgresStore) UpdatePackage(k *models.Package) error {
	res, err := p.db.Exec(`UPDATE packages SET description=$1, weight=$2, declared_value=$3, category=$4, fragile=$5,
		urgent=$6, max_reward=$7, status=$8, updated_at=now() WHERE id=$9`,
		k.Description, k.Weight, k.DeclaredValue, k.Category, k.Fragile, k.Urgent, k.MaxReward, k.Status, k.ID)
	return rowsErr(res, err)
}

const packageCols = `id, sender_id, origin_id, destination_id, description, weight, declared_value,
	category, fragile, urgent, pickup_address, delivery_address, pickup_window, delivery_window, receiver_name, receiver_phone,
	max_reward, estimated_reward, traditional_cost, savings, status, expires_at, views, created_at, updated_at`

func (p *PostgresStore) ExactPackages(originID, destinationID string, maxWeight float64) ([]*models.Package, error) {
	rows, err := p.db.Query(`SELECT `+packageCols+` FROM packages
		WHERE origin_id=$1 AND destination_id=$2 AND status='PENDING' AND weight <= $3 AND expires_at > now()
		ORDER BY created_at`, originID, destinationID, maxWeight)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Package
	for rows.Next() {
		k, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ExactTrips(originID, destinationID string, minSpace float64) ([]*models.Trip, error) {
	rows, err := p.db.Query(`SELECT id, traveler_id, origin_id, destination_id, departure_date, arrival_date, return_date,
		space_available, bag_types, status, price_per_kg, acceptable_items, restrictions, views, created_at, updated_at
		FROM trips WHERE origin_id=$1 AND destination_id=$2 AND status='ACTIVE' AND space_available >= $3
		ORDER BY created_at`, originID, destinationID, minSpace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// haversineExpr computes great-circle km between a bound lat/lon pair and a
// locations row. Placeholders are substituted by fmt so the same expression
// can be reused for both endpoints in one query.
func haversineExpr(latParam, lonParam, alias string) string {
	return fmt.Sprintf(`(6371 * acos(least(1.0,
		cos(radians(%[1]s)) * cos(radians(%[3]s.lat)) * cos(radians(%[3]s.lon) - radians(%[2]s)) +
		sin(radians(%[1]s)) * sin(radians(%[3]s.lat)))))`, latParam, lonParam, alias)
}

// NearbyPackages pushes the dual-endpoint radius rule into a single typed
// query: each candidate's origin must lie within radiusKm of the trip origin
// AND its destination within radiusKm of the trip destination. Entity columns
// and distance columns come back in one pass so no refetch is needed.
func (p *PostgresStore) NearbyPackages(origin, dest models.Coord, radiusKm, maxWeight float64, limit int) ([]PackageCandidate, error) {
	q := fmt.Sprintf(`SELECT * FROM (
			SELECT p.*, %s AS origin_km, %s AS dest_km
			FROM packages p
			JOIN locations lo ON lo.id = p.origin_id
			JOIN locations ld ON ld.id = p.destination_id
			WHERE p.status='PENDING' AND p.weight <= $5 AND p.expires_at > now()
		) c WHERE c.origin_km <= $6 AND c.dest_km <= $6
		ORDER BY c.origin_km + c.dest_km ASC LIMIT $7`,
		haversineExpr("$1", "$2", "lo"), haversineExpr("$3", "$4", "ld"))
	rows, err := p.db.Query(q, origin.Lat, origin.Lon, dest.Lat, dest.Lon, maxWeight, radiusKm, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PackageCandidate
	for rows.Next() {
		var c PackageCandidate
		k := &models.Package{}
		var pw, dw []byte
		if err := rows.Scan(&k.ID, &k.SenderID, &k.OriginID, &k.DestinationID, &k.Description, &k.Weight, &k.DeclaredValue,
			&k.Category, &k.Fragile, &k.Urgent, &k.PickupAddress, &k.DeliveryAddress, &pw, &dw, &k.ReceiverName, &k.ReceiverPhone,
			&k.MaxReward, &k.EstimatedReward, &k.TraditionalCost, &k.Savings, &k.Status, &k.ExpiresAt, &k.Views, &k.CreatedAt, &k.UpdatedAt,
			&c.OriginKm, &c.DestKm); err != nil {
			return nil, err
		}
		if len(pw) > 0 {
			var w models.TimeWindow
			if err := json.Unmarshal(pw, &w); err == nil {
				k.PickupWindow = &w
			}
		}
		if len(dw) > 0 {
			var w models.TimeWindow
			if err := json.Unmarshal(dw, &w); err == nil {
				k.DeliveryWindow = &w
			}
		}
		c.Package = k
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) NearbyTrips(origin, dest models.Coord, radiusKm, minSpace float64, limit int) ([]TripCandidate, error) {
	q := fmt.Sprintf(`SELECT * FROM (
			SELECT t.*, %s AS origin_km, %s AS dest_km
			FROM trips t
			JOIN locations lo ON lo.id = t.origin_id
			JOIN locations ld ON ld.id = t.destination_id
			WHERE t.status='ACTIVE' AND t.space_available >= $5
		) c WHERE c.origin_km <= $6 AND c.dest_km <= $6
		ORDER BY c.origin_km + c.dest_km ASC LIMIT $7`,
		haversineExpr("$1", "$2", "lo"), haversineExpr("$3", "$4", "ld"))
	rows, err := p.db.Query(q, origin.Lat, origin.Lon, dest.Lat, dest.Lon, minSpace, radiusKm, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TripCandidate
	for rows.Next() {
		var c TripCandidate
		t := &models.Trip{}
		var arrival, ret sql.NullTime
		var bags, items, restr pq.StringArray
		if err := rows.Scan(&t.ID, &t.TravelerID, &t.OriginID, &t.DestinationID, &t.DepartureDate, &arrival, &ret,
			&t.SpaceAvailable, &bags, &t.Status, &t.PricePerKg, &items, &restr, &t.Views, &t.CreatedAt, &t.UpdatedAt,
			&c.OriginKm, &c.DestKm); err != nil {
			return nil, err
		}
		t.ArrivalDate = timePtr(arrival)
		t.ReturnDate = timePtr(ret)
		for _, b := range bags {
			t.BagTypes = append(t.BagTypes, models.BagType(b))
		}
		t.AcceptableItems = items
		t.Restrictions = restr
		c.Trip = t
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveMatchRequest(r *models.MatchRequest) error {
	_, err := p.db.Exec(`INSERT INTO match_requests(id, trip_id, package_id, sender_id, traveler_id, weight, reward,
		category, message, status, payment_status, escrow_status, payment_ref, accepted_at, paid_at, expires_at, version, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		r.ID, r.TripID, r.PackageID, r.SenderID, r.TravelerID, r.Weight, r.Reward,
		r.Category, r.Message, r.Status, r.PaymentStatus, r.EscrowStatus, r.PaymentRef,
		nullTime(r.AcceptedAt), nullTime(r.PaidAt), r.ExpiresAt, r.Version, r.CreatedAt, r.UpdatedAt)
	return err
}

const requestCols = `id, trip_id, package_id, sender_id, traveler_id, weight, reward, category, message,
	status, payment_status, escrow_status, payment_ref, accepted_at, paid_at, expires_at, version, created_at, updated_at`

func (p *PostgresStore) GetMatchRequest(id string) (*models.MatchRequest, error) {
	row := p.db.QueryRow(`SELECT `+requestCols+` FROM match_requests WHERE id=$1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) UpdateMatchRequest(r *models.MatchRequest, expectedVersion int64) error {
	res, err := p.db.Exec(`UPDATE match_requests SET status=$1, payment_status=$2, escrow_status=$3, payment_ref=$4,
		accepted_at=$5, paid_at=$6, version=version+1, updated_at=now() WHERE id=$7 AND version=$8`,
		r.Status, r.PaymentStatus, r.EscrowStatus, r.PaymentRef, nullTime(r.AcceptedAt), nullTime(r.PaidAt), r.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// distinguish a missing row from a lost race
		if _, gerr := p.GetMatchRequest(r.ID); gerr != nil {
			return gerr
		}
		return ErrVersionConflict
	}
	r.Version = expectedVersion + 1
	return nil
}

// CreateMatch runs the accepted->paid flip and the Match insert in one
// transaction. The unique index on matches.match_request_id backs the version
// check up at the schema level.
func (p *PostgresStore) CreateMatch(r *models.MatchRequest, m *models.Match, expectedVersion int64) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE match_requests SET status=$1, payment_status=$2, escrow_status=$3, payment_ref=$4,
		paid_at=$5, version=version+1, updated_at=now() WHERE id=$6 AND version=$7`,
		r.Status, r.PaymentStatus, r.EscrowStatus, r.PaymentRef, nullTime(r.PaidAt), r.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}

	_, err = tx.Exec(`INSERT INTO matches(id, match_request_id, trip_id, package_id, sender_id, traveler_id, status,
		tracking_step, pickup_code, delivery_code, pickup_address, delivery_address, photos, notes, picked_up_at, delivered_at, version, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		m.ID, m.MatchRequestID, m.TripID, m.PackageID, m.SenderID, m.TravelerID, m.Status,
		m.TrackingStep, m.PickupCode, m.DeliveryCode, m.PickupAddress, m.DeliveryAddress,
		pq.Array(m.Photos), m.Notes, nullTime(m.PickedUpAt), nullTime(m.DeliveredAt), m.Version, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			// a code-index hit means the caller just drew unlucky codes;
			// only the request-id index means the request is already paid
			switch pqErr.Constraint {
			case "matches_pickup_code_key", "matches_delivery_code_key":
				return ErrCodeCollision
			}
			return ErrDuplicateMatch
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	r.Version = expectedVersion + 1
	return nil
}

const matchCols = `id, match_request_id, trip_id, package_id, sender_id, traveler_id, status, tracking_step,
	pickup_code, delivery_code, pickup_address, delivery_address, photos, notes, picked_up_at, delivered_at, version, created_at, updated_at`

func (p *PostgresStore) GetMatch(id string) (*models.Match, error) {
	row := p.db.QueryRow(`SELECT `+matchCols+` FROM matches WHERE id=$1`, id)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (p *PostgresStore) GetMatchByRequest(requestID string) (*models.Match, error) {
	row := p.db.QueryRow(`SELECT `+matchCols+` FROM matches WHERE match_request_id=$1`, requestID)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (p *PostgresStore) UpdateMatch(m *models.Match, expectedVersion int64) error {
	res, err := p.db.Exec(`UPDATE matches SET status=$1, tracking_step=$2, photos=$3, notes=$4,
		picked_up_at=$5, delivered_at=$6, version=version+1, updated_at=now() WHERE id=$7 AND version=$8`,
		m.Status, m.TrackingStep, pq.Array(m.Photos), m.Notes, nullTime(m.PickedUpAt), nullTime(m.DeliveredAt), m.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, gerr := p.GetMatch(m.ID); gerr != nil {
			return gerr
		}
		return ErrVersionConflict
	}
	m.Version = expectedVersion + 1
	return nil
}

func (p *PostgresStore) SaveDispute(d *models.Dispute) error {
	tl, err := json.Marshal(d.Timeline)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(`INSERT INTO disputes(id, match_id, sender_id, traveler_id, status, reason, description,
		preferred_outcome, evidence, timeline, first_reply_due, resolution_due, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		d.ID, d.MatchID, d.SenderID, d.TravelerID, d.Status, d.Reason, d.Description,
		d.PreferredOutcome, pq.Array(d.Evidence), tl, d.FirstReplyDue, d.ResolutionDue, d.CreatedAt, d.UpdatedAt)
	return err
}

const disputeCols = `id, match_id, sender_id, traveler_id, status, reason, description, preferred_outcome,
	evidence, timeline, first_reply_due, resolution_due, created_at, updated_at`

func (p *PostgresStore) GetDispute(id string) (*models.Dispute, error) {
	row := p.db.QueryRow(`SELECT `+disputeCols+` FROM disputes WHERE id=$1`, id)
	d, err := scanDispute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (p *PostgresStore) UpdateDispute(d *models.Dispute) error {
	tl, err := json.Marshal(d.Timeline)
	if err != nil {
		return err
	}
	res, err := p.db.Exec(`UPDATE disputes SET status=$1, evidence=$2, timeline=$3, updated_at=now() WHERE id=$4`,
		d.Status, pq.Array(d.Evidence), tl, d.ID)
	return rowsErr(res, err)
}

func (p *PostgresStore) OpenDisputes() ([]*models.Dispute, error) {
	rows, err := p.db.Query(`SELECT ` + disputeCols + ` FROM disputes WHERE status <> 'closed'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ExpireMatchRequests(now time.Time) (int64, error) {
	res, err := p.db.Exec(`UPDATE match_requests SET status='expired', version=version+1, updated_at=$1
		WHERE status='pending' AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgresStore) ExpirePackages(now time.Time) (int64, error) {
	res, err := p.db.Exec(`UPDATE packages SET status='EXPIRED', updated_at=$1
		WHERE status='PENDING' AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// scan helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*models.Trip, error) {
	var t models.Trip
	var arrival, ret sql.NullTime
	var bags, items, restr pq.StringArray
	err := row.Scan(&t.ID, &t.TravelerID, &t.OriginID, &t.DestinationID, &t.DepartureDate, &arrival, &ret,
		&t.SpaceAvailable, &bags, &t.Status, &t.PricePerKg, &items, &restr, &t.Views, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.ArrivalDate = timePtr(arrival)
	t.ReturnDate = timePtr(ret)
	for _, b := range bags {
		t.BagTypes = append(t.BagTypes, models.BagType(b))
	}
	t.AcceptableItems = items
	t.Restrictions = restr
	return &t, nil
}

func scanPackage(row rowScanner) (*models.Package, error) {
	var k models.Package
	var pw, dw []byte
	err := row.Scan(&k.ID, &k.SenderID, &k.OriginID, &k.DestinationID, &k.Description, &k.Weight, &k.DeclaredValue,
		&k.Category, &k.Fragile, &k.Urgent, &k.PickupAddress, &k.DeliveryAddress, &pw, &dw, &k.ReceiverName, &k.ReceiverPhone,
		&k.MaxReward, &k.EstimatedReward, &k.TraditionalCost, &k.Savings, &k.Status, &k.ExpiresAt, &k.Views, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(pw) > 0 {
		var w models.TimeWindow
		if err := json.Unmarshal(pw, &w); err == nil {
			k.PickupWindow = &w
		}
	}
	if len(dw) > 0 {
		var w models.TimeWindow
		if err := json.Unmarshal(dw, &w); err == nil {
			k.DeliveryWindow = &w
		}
	}
	return &k, nil
}

func scanRequest(row rowScanner) (*models.MatchRequest, error) {
	var r models.MatchRequest
	var accepted, paid sql.NullTime
	err := row.Scan(&r.ID, &r.TripID, &r.PackageID, &r.SenderID, &r.TravelerID, &r.Weight, &r.Reward,
		&r.Category, &r.Message, &r.Status, &r.PaymentStatus, &r.EscrowStatus, &r.PaymentRef,
		&accepted, &paid, &r.ExpiresAt, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.AcceptedAt = timePtr(accepted)
	r.PaidAt = timePtr(paid)
	return &r, nil
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var m models.Match
	var pickedUp, delivered sql.NullTime
	var photos pq.StringArray
	err := row.Scan(&m.ID, &m.MatchRequestID, &m.TripID, &m.PackageID, &m.SenderID, &m.TravelerID, &m.Status, &m.TrackingStep,
		&m.PickupCode, &m.DeliveryCode, &m.PickupAddress, &m.DeliveryAddress, &photos, &m.Notes, &pickedUp, &delivered, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Photos = photos
	m.PickedUpAt = timePtr(pickedUp)
	m.DeliveredAt = timePtr(delivered)
	return &m, nil
}

func scanDispute(row rowScanner) (*models.Dispute, error) {
	var d models.Dispute
	var evidence pq.StringArray
	var tl []byte
	err := row.Scan(&d.ID, &d.MatchID, &d.SenderID, &d.TravelerID, &d.Status, &d.Reason, &d.Description, &d.PreferredOutcome,
		&evidence, &tl, &d.FirstReplyDue, &d.ResolutionDue, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Evidence = evidence
	if len(tl) > 0 {
		if err := json.Unmarshal(tl, &d.Timeline); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

func bagTypeStrings(in []models.BagType) []string {
	out := make([]string, 0, len(in))
	for _, b := range in {
		out = append(out, string(b))
	}
	return out
}

func windowJSON(w *models.TimeWindow) ([]byte, error) {
	if w == nil {
		return nil, nil
	}
	return json.Marshal(w)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func rowsErr(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
