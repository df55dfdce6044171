package postgres

const queryListAppointments = `
SELECT id, site_id, tech_name, tech_phone, address, city, state, zip,
       secured_date, secured_time, work_market, work_order,
       call_24h, call_1h
FROM appointments
ORDER BY id`

const queryUpdate24HourFlag = `
UPDATE appointments SET call_24h = $1, updated_at = NOW() WHERE id = $2`

const queryUpdate1HourFlag = `
UPDATE appointments SET call_1h = $1, updated_at = NOW() WHERE id = $2`

const queryInsertCorrection = `
INSERT INTO appointment_corrections (appointment_id, title, comment, created_at)
VALUES ($1, $2, $3, NOW())`
