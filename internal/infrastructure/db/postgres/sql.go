package postgres

const getActiveLinkBySlugSQL = `
SELECT tl.id, tl.slug, tl.influencer_id, tl.program_id,
       COALESCE(tl.product_id::text, ''), tl.destination_url, tl.subid,
       p.cookie_window_days
FROM tracking_links tl
JOIN programs p ON p.id = tl.program_id
WHERE tl.slug = $1 AND tl.is_active
`

const listActiveLinksSQL = `
SELECT tl.id, tl.slug, tl.influencer_id, tl.program_id,
       COALESCE(tl.product_id::text, ''), tl.destination_url, tl.subid,
       p.cookie_window_days
FROM tracking_links tl
JOIN programs p ON p.id = tl.program_id
WHERE tl.is_active
ORDER BY tl.total_clicks DESC, tl.created_at DESC
LIMIT $1
`

const insertClickSQL = `
INSERT INTO clicks (
  id, tracking_link_id, ip_hash, user_agent, referer, device_fingerprint,
  platform, browser, subid, fraud_score, fraud_flags, clicked_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::jsonb,$12)
`

const incrementLinkClicksSQL = `
UPDATE tracking_links SET total_clicks = total_clicks + 1 WHERE id = $1
`

// The no-op DO UPDATE makes RETURNING yield the existing row on conflict.
// xmax = 0 only for a row this statement inserted. A concurrent claimer
// blocks on the unique index until the first transaction ends.
const claimWebhookEventSQL = `
INSERT INTO webhook_events (id, source, external_event_id, event_type, payload, created_at)
VALUES ($1, $2, $3, $4, $5::jsonb, $6)
ON CONFLICT (source, external_event_id)
DO UPDATE SET source = EXCLUDED.source
RETURNING id, conversion_id::text, (xmax = 0) AS inserted
`

const completeWebhookEventSQL = `
UPDATE webhook_events
SET status_code = $2,
    error_message = $3,
    conversion_id = $4::uuid,
    processed_at = $5
WHERE id = $1
`

const findLinkForAttributionSQL = `
SELECT tl.id, tl.slug, tl.influencer_id,
       p.id, p.merchant_id, p.commission_type, p.commission_value, p.cookie_window_days
FROM tracking_links tl
JOIN programs p ON p.id = tl.program_id
WHERE tl.slug IN ($1, $2) OR tl.id::text = $3
ORDER BY (tl.slug = $1) DESC, (tl.slug = $2) DESC
LIMIT 1
`

const insertConversionSQL = `
INSERT INTO conversions (
  id, tracking_link_id, webhook_event_id, order_id, order_amount,
  commission_amount, currency, subid, status, converted_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (order_id) DO NOTHING
`

const insertCommissionSQL = `
INSERT INTO commissions (
  id, influencer_id, program_id, conversion_id,
  gross_amount, platform_fee, net_amount, status, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`

const incrementLinkConversionsSQL = `
UPDATE tracking_links
SET total_conversions = total_conversions + 1,
    total_revenue = total_revenue + $2
WHERE id = $1
`

const insertOutboxSQL = `
INSERT INTO event_outbox (
  id, message_id, routing_key, body, created_at, status, next_retry_at
) VALUES ($1, $2, $3, $4::jsonb, $5, 'pending', $5)
`
