//go:build ignore

// Generates the sample document corpus used by the retrieval quality
// suite, plus optional synthetic filler for benchmarking.
//
// Usage:
//
//	go run scripts/generate-test-corpus.go /tmp/alicerag-corpus
//	go run scripts/generate-test-corpus.go -files 1000 /tmp/alicerag-bench
//
// The fixed sample documents are what internal/validation's golden
// queries point at; their paths and vocabulary must stay in step with
// testdata/queries.yaml.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

var (
	numFiles = flag.Int("files", 0, "Number of synthetic filler documents to add")
	seed     = flag.Int64("seed", 42, "Random seed for the synthetic filler")
)

// sampleDoc is one fixed corpus document.
type sampleDoc struct {
	path    string
	content string
}

var sampleDocs = []sampleDoc{
	{"recipes/chocolate-chip-cookies.md", cookiesDoc},
	{"recipes/sourdough-bread.md", sourdoughDoc},
	{"recipes/thai-green-curry.md", curryDoc},
	{"meetings/2025-03-12-sprint-planning.md", sprintDoc},
	{"meetings/2025-04-02-architecture-review.md", architectureDoc},
	{"guides/backup-restore.md", backupDoc},
	{"guides/home-network.md", networkDoc},
	{"guides/kubernetes-deployment.md", kubernetesDoc},
	{"manuals/espresso-machine.txt", espressoDoc},
	{"reference/http-status-codes.md", statusCodesDoc},
	{"travel/japan-itinerary.md", japanDoc},
	{"finance/tax-checklist-2025.md", taxDoc},
	{"clippings/pour-over-coffee.html", pourOverDoc},
}

const cookiesDoc = `# Chocolate Chip Cookies

Makes about 24 cookies. Chill the dough if you like them thick.

## Ingredients

- 2 1/4 cups all-purpose flour
- 1 teaspoon baking soda
- 1 teaspoon salt
- 1 cup unsalted butter, softened
- 3/4 cup granulated sugar
- 3/4 cup packed brown sugar
- 2 large eggs
- 2 teaspoons vanilla extract
- 2 cups semisweet chocolate chips

## Method

Preheat the oven to 375 F. Whisk the flour, baking soda, and salt in
a small bowl.

Cream the butter with both sugars until light and fluffy, about three
minutes with a stand mixer. Beat in the eggs one at a time, then the
vanilla. Add the flour mixture in two additions, mixing just until no
dry streaks remain. Fold in the chocolate chips by hand.

Drop rounded tablespoons onto ungreased baking sheets, two inches
apart. Bake 9 to 11 minutes until the edges are golden but the
centers still look slightly underdone. Cool on the sheet for two
minutes before moving to a rack. They firm up as they cool.
`

const sourdoughDoc = `# Sourdough Bread

A basic country loaf at 75% hydration. Timings assume a kitchen
around 72 F; a colder room stretches everything out.

## Starter

Feed the sourdough starter 8 to 12 hours before mixing: 50g starter,
50g water, 50g flour. It is ready when it has doubled and smells
mildly sour. A spoonful should float in water.

## Dough

Mix 750g bread flour, 550g water, and 150g ripe starter. Rest 30
minutes, then add 15g salt with a splash of water and work it in.

Bulk fermentation takes 4 to 6 hours. Give the dough a set of
stretch-and-folds every 45 minutes for the first three hours. The
dough is done when it has risen by half, holds an edge, and shows
bubbles along the sides of the container.

## Shaping and Baking

Turn the dough out, preshape into a round, and rest 20 minutes. Shape
tight, seam side up in a floured banneton, and let it rise in the
fridge overnight. How long the dough should rise before shaping
depends on temperature; go by feel, not the clock.

Bake in a dutch oven at 475 F: 20 minutes covered, then 20 to 25
minutes uncovered until deeply browned.
`

const curryDoc = `# Thai Green Curry

Weeknight version with chicken. Swap in tofu and vegetable stock to
make it vegetarian.

## Ingredients

- 2 tablespoons green curry paste
- 1 can (400ml) coconut milk
- 400g chicken thigh, sliced
- 1 small eggplant, cubed
- 100g green beans
- 2 tablespoons fish sauce
- 1 tablespoon palm sugar
- 4 makrut lime leaves
- A handful of thai basil leaves

## Method

Open the can of coconut milk without shaking it and scoop the thick
cream off the top. Fry the cream in a wok over medium heat until the
oil splits out, then fry the green curry paste in it for a minute
until fragrant.

Add the chicken and coat it in the paste. Pour in the rest of the
coconut milk, the fish sauce, palm sugar, and lime leaves. Simmer 10
minutes, add the eggplant and beans, and cook until tender. Finish
with thai basil off the heat. Serve over jasmine rice.
`

const sprintDoc = `# Sprint Planning - March 12, 2025

Attendees: Dana, Marcus, Priya, Tom. Facilitator: Dana.

## Velocity

Last sprint we completed 34 story points against a commitment of 40.
Rolling three-sprint velocity is 36 points. We agreed to plan this
sprint at 36, not 40, and stop treating the stretch number as the
commitment.

## Sprint Goal

Ship the import pipeline behind a feature flag and get the first
internal users onto it.

## Committed Stories

- IMP-204 CSV import validation (8 points)
- IMP-210 Progress reporting for long imports (5 points)
- IMP-215 Retry on transient storage failures (8 points)
- IMP-197 Import audit log (5 points)
- OPS-88 Alert on import queue depth (3 points)
- BUG-412 Duplicate rows on re-import (5 points)

Total: 34 story points, leaving slack for interrupt work.

## Notes

Priya flagged that IMP-215 depends on the storage client upgrade that
platform is shipping mid-sprint. If it slips we trade it for IMP-220.
Estimation for the notification stories was deferred until the design
review lands.
`

const architectureDoc = `# Architecture Review - April 2, 2025

Attendees: Dana, Marcus, Priya, Wei, guest: Sofia from platform.

## Topic: replacing direct service calls with a message queue

The order service calls inventory and notifications synchronously.
Timeouts in notifications have been failing order placement, which is
the tail wagging the dog.

## Options discussed

1. Keep synchronous calls, add circuit breakers.
2. Introduce a message queue and move notifications to async
   consumers.
3. Full event sourcing. Ruled out quickly as a rewrite.

## Decision

We decided to adopt a message queue for notifications first, leaving
inventory synchronous since order placement genuinely depends on it.
Sofia's team already operates RabbitMQ, so we use that rather than
standing up Kafka for one queue. Marcus owns the spike; results due
at the April 16 review.

## Open questions

- Delivery guarantees: at-least-once with idempotent consumers.
- Queue depth alerting thresholds to be copied from the import
  pipeline work.
`

const backupDoc = `# Backup and Restore

How this household's machines are backed up with restic, and how to
get files back after a disk failure.

## Setup

Every machine runs restic against the same B2 bucket, each with its
own repository password in the password manager. Laptops back up home
directories hourly via a systemd timer; the NAS backs up its shares
nightly at 2am.

    restic -r b2:household-backups:laptop-dana backup ~/ --exclude-file ~/.backup-exclude

## Checking backups

List snapshots to confirm the timer is actually running:

    restic -r b2:household-backups:laptop-dana snapshots

A quiet week of missing snapshots usually means the laptop slept
through the timer or the B2 key expired.

## Restoring

To restore a single file from the latest snapshot:

    restic -r b2:household-backups:laptop-dana restore latest --target /tmp/restore --include ~/docs/thesis.md

After a full disk failure: reinstall the OS, install restic, fetch
the repository password from the password manager on another device,
then restore the whole home directory with --target pointing at the
new home. Expect a few hours for a full restore over a residential
connection. Verify with restic check before trusting the new disk.
`

const networkDoc = `# Home Network Setup

Layout and conventions for the apartment network.

## Hardware

The fiber ONT feeds a small router running OpenWrt, which feeds an
8-port switch and two wireless access points, one per floor. The
access points share the same SSID so devices roam.

## Addressing

The router hands out DHCP on 192.168.1.0/24. Fixed leases live in the
100 to 149 range: NAS at .100, printer at .110, both access points at
.120 and .121.

## Port forwarding

Port forwarding rules are configured on the router under Network,
Firewall, Port Forwards. Currently forwarded: 51820/udp for WireGuard
to the NAS. Nothing else should be exposed; the rule list is the
audit trail.

## Wireless coverage

The back bedroom had weak Wi-Fi until the second access point went
in. If wireless coverage around the house degrades again, check
channel overlap first; the neighbors' networks drift onto channel 6
every few months. A wired backhaul beats any mesh kit; the in-wall
ethernet runs make improving coverage a matter of adding another
access point, not moving the router.
`

const kubernetesDoc = `# Kubernetes Deployment Guide

How the api service deploys to the shared cluster.

## Chart layout

The helm chart lives in deploy/chart with one values file per
environment. Images are tagged by git SHA; values-prod.yaml pins the
tag and the chart never uses latest.

## Rolling update strategy

The deployment uses a rolling update strategy with maxSurge 1 and
maxUnavailable 0, so capacity never dips during a release. The
liveness probe waits 10 seconds and the readiness probe gates traffic
on the health endpoint returning 200. A release rolls pod by pod and
stops if the new pods never become ready.

    helm upgrade api deploy/chart -f deploy/chart/values-prod.yaml --set image.tag=$SHA

## Rolling back

Undoing a bad production release is one command, because helm keeps
release history:

    helm rollback api

That returns to the previous revision. Check helm history api first
if more than one release went out since the good one. Rollback uses
the same rolling update strategy, so it is as safe as the release
itself. For config-only mistakes prefer rolling forward with a fixed
values file, since a rollback also reverts the image.
`

const espressoDoc = `ESPRESSO MACHINE MANUAL - MODEL SB-2100

SECTION 4: DAILY USE

Fill the portafilter with 18g of ground coffee. Tamp level with firm
pressure. Lock the portafilter into the group head and start the
shot; aim for 36g of espresso in 25 to 30 seconds. Adjust the grinder
finer if the shot runs fast, coarser if it chokes.

SECTION 5: STEAM WAND AND MILK

Purge the steam wand before and after every use. For frothing milk
for a latte, submerge the tip just below the surface until the milk
stretches, then sink the tip deeper to roll the milk into a whirlpool
until the pitcher is too hot to hold for more than a moment. Good
microfoam pours glossy, like wet paint. Wipe the wand immediately;
dried milk is the hardest thing to clean off this machine.

SECTION 6: DESCALING

Descale every two months, monthly with hard water. Dissolve one
packet of descaling powder in a full water tank. Run a third of the
tank through the group head and a third through the steam wand,
resting ten minutes halfway. Flush two full tanks of fresh water
through both paths before pulling shots again. The DESCALE light
clears after a full flush cycle.

SECTION 7: TROUBLESHOOTING

No steam pressure: the wand tip is blocked; soak it and clear the
holes with the pin tool. Water under the machine: reseat the drip
tray. Pump rattles loudly: the tank is empty or the intake hose is
kinked.
`

const statusCodesDoc = `# HTTP Status Codes

Quick reference for the codes that actually come up.

## 2xx Success

- 200 OK: standard success.
- 201 Created: resource created; Location header points at it.
- 204 No Content: success with an empty body, common for DELETE.

## 3xx Redirection

- 301 Moved Permanently: update bookmarks and links.
- 302 Found: temporary; the client keeps using the old URL.
- 304 Not Modified: conditional GET hit; serve from cache.

## 4xx Client Errors

- 400 Bad Request: malformed syntax or invalid parameters.
- 401 Unauthorized: missing or bad credentials, really means
  unauthenticated.
- 403 Forbidden: authenticated but not allowed.
- 404 Not Found: no such resource, or hiding a 403.
- 409 Conflict: version conflict or duplicate create.
- 429 Too Many Requests: rate limited; honor Retry-After.

## 5xx Server Errors

- 500 Internal Server Error: unhandled failure on the server.
- 502 Bad Gateway: the upstream behind a proxy answered garbage.
- 503 Service Unavailable: the server is overloaded or down for
  maintenance; transient by definition, retry with backoff and honor
  Retry-After when present.
- 504 Gateway Timeout: the upstream never answered at all.
`

const japanDoc = `# Japan Itinerary - October

Two weeks, Tokyo in, Osaka out.

## Rail pass

The 14-day Japan Rail Pass covers every leg except the Osaka subway.
Activate the rail pass at Tokyo Station on day 3, not on arrival, so
it stretches over both long-distance segments. Seat reservations for
the Tokyo to Kyoto shinkansen are free with the pass; book the
morning of.

## Days 1-4: Tokyo

Yanaka and Ueno on the jet-lag day. Teamlab and Shibuya when awake.
Day trip to Nikko with the pass once it is active.

## Days 5-9: Kyoto

Stay near Gion. Temples early before the crowds: Kiyomizu-dera at
opening, then the Higashiyama lanes downhill. Fushimi Inari shrine
is best at dusk when the tour groups leave; the upper half of the
mountain is nearly empty. One day for Arashiyama, one for Nara's
shrines and the deer park, both covered by the rail pass.

## Days 10-12: Kanazawa

Kenroku-en garden, the samurai district, and the morning market.
The limited express from Kyoto is covered.

## Days 13-14: Osaka

Dotonbori at night, Kuromon market for breakfast, airport train out.

## Notes

Ryokan night in Kinosaki fell out of this draft; it costs two travel
half-days. Reconsider on a three-week trip.
`

const taxDoc = `# Tax Checklist 2025

Working checklist for the April filing. Freelance year, so quarterly
estimates apply.

## Documents to collect

- 1099-NEC from each client over $600
- Bank interest statements
- Brokerage consolidated 1099
- Receipts folder from the expenses drawer
- Last year's return for carryovers

## Deductible expenses for freelancers

Deductions tracked this year:

- Home office: 9% of rent and utilities, by floor area, regular and
  exclusive use.
- Laptop bought in March: section 179, full amount this year.
- Software subscriptions: editor, accounting tool, stock assets.
- Health insurance premiums: self-employed deduction, line item on
  Schedule 1, not Schedule C.
- Half of self-employment tax, calculated on Schedule SE.
- Client travel: the Denver trip, airfare and lodging; meals at 50%.

Not deductible, stop asking: the espresso machine, the commute to the
coworking space, clothes.

## Quarterly estimates

Q1 paid January 15, Q2 due April 15 with the return. Base both on
the safe harbor: 110% of last year's liability split in four.
`

const pourOverDoc = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Pour Over Coffee, Start to Finish</title>
</head>
<body>
<article>
<h1>Pour Over Coffee, Start to Finish</h1>
<p>Pour over rewards consistency more than gear. A V60, a scale, and
a kettle you can pour slowly from will outbrew an expensive setup
used carelessly.</p>

<h2>Grind size</h2>
<p>Start with a medium-fine grind, about the texture of table salt.
Grind size is the main lever: if the brew tastes sour and the drawdown
finishes fast, go finer; if it tastes bitter and the water pools, go
coarser. Change only the grind between brews until it tastes right.</p>

<h2>Ratio and technique</h2>
<p>Use 1:16 by weight, 25 grams of coffee to 400 grams of water just
off the boil. Bloom with 50 grams for 45 seconds, then pour in slow
spirals, keeping the bed level. Total brew time should land between
two and a half and three and a half minutes.</p>

<h2>Troubleshooting</h2>
<p>Muddy cup: grind coarser or pour more gently. Weak cup: raise the
dose before reaching for a finer grind. Uneven drawdown: the spiral
pour is digging channels, slow down.</p>
</article>
</body>
</html>
`

// Synthetic filler templates. These pad the corpus for benchmarks;
// the golden queries never point at them.

const noteTemplate = `# %s Notes - %s

Quick notes from working on the %s %s.

The main open question is how the %s handles %s under load. Current
thinking is to %s the %s first and measure before changing anything
else. %s suggested also looking at the %s %s from last quarter.

## Follow-ups

- %s the %s configuration
- Compare with the %s approach
- Write up findings for the %s review
`

const articleTemplate = `# Understanding %s in %s

An overview of how %s works and when to reach for it.

%s is the standard approach to %s in most %s setups. The core idea
is to %s the incoming %s before it reaches the %s, which keeps the
%s path simple and makes failures easy to reason about.

In practice the tradeoff is between %s and %s. Teams that need
strict %s tend to %s everything up front, while teams optimizing for
%s accept some drift and reconcile later.

## When not to use it

If the %s is small or changes rarely, a plain %s is simpler and
easier to operate. Reach for %s once the %s becomes the bottleneck.
`

const logTemplate = `%s log - %s

09:10 started reviewing the %s setup
09:45 found the %s misconfigured, %s was pointing at the old %s
10:30 fixed, re-ran the %s checks, all green
11:15 meeting with %s about the %s migration
13:00 drafted the %s plan, sent for review
14:40 %s flagged an edge case in the %s handling
16:00 wrote a regression test, fix lands tomorrow
`

var (
	topics = []string{
		"garden", "budget", "reading list", "kitchen renovation",
		"marathon training", "photo archive", "car maintenance",
		"piano practice", "woodworking", "aquarium",
	}
	systems = []string{
		"pipeline", "archive", "scheduler", "tracker", "backlog",
		"inventory", "catalog", "journal", "planner", "ledger",
	}
	actions = []string{
		"simplify", "rebuild", "document", "automate", "split",
		"merge", "audit", "benchmark", "migrate", "retire",
	}
	people = []string{
		"Dana", "Marcus", "Priya", "Tom", "Wei", "Sofia",
	}
	qualities = []string{
		"throughput", "latency", "accuracy", "cost", "durability",
		"freshness", "coverage", "consistency",
	}
	months = []string{
		"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November",
		"December",
	}
)

func main() {
	flag.Parse()

	outputDir := "testdata/corpus"
	if flag.NArg() > 0 {
		outputDir = flag.Arg(0)
	}

	if err := writeSampleDocs(outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d sample documents to %s\n", len(sampleDocs), outputDir)

	if *numFiles > 0 {
		rng := rand.New(rand.NewSource(*seed))
		if err := writeFillerDocs(outputDir, *numFiles, rng); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %d filler documents\n", *numFiles)
	}
}

func writeSampleDocs(outputDir string) error {
	for _, doc := range sampleDocs {
		path := filepath.Join(outputDir, filepath.FromSlash(doc.path))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(doc.content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func writeFillerDocs(outputDir string, n int, rng *rand.Rand) error {
	fillerDir := filepath.Join(outputDir, "filler")
	if err := os.MkdirAll(fillerDir, 0o755); err != nil {
		return err
	}

	// Rough mix of note-taking output: mostly notes, some longer
	// articles, a few daily logs.
	notes := n * 50 / 100
	articles := n * 30 / 100
	logs := n - notes - articles

	for i := 0; i < notes; i++ {
		if err := writeNote(fillerDir, i, rng); err != nil {
			return err
		}
	}
	for i := 0; i < articles; i++ {
		if err := writeArticle(fillerDir, i, rng); err != nil {
			return err
		}
	}
	for i := 0; i < logs; i++ {
		if err := writeLog(fillerDir, i, rng); err != nil {
			return err
		}
	}
	return nil
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

func writeNote(dir string, index int, rng *rand.Rand) error {
	topic := pick(rng, topics)
	content := fmt.Sprintf(noteTemplate,
		topic, pick(rng, months),
		topic, pick(rng, systems),
		pick(rng, systems), pick(rng, qualities),
		pick(rng, actions), pick(rng, systems),
		pick(rng, people), pick(rng, systems), pick(rng, actions),
		pick(rng, actions), pick(rng, systems),
		pick(rng, topics), pick(rng, months),
	)
	name := fmt.Sprintf("note-%04d.md", index)
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

func writeArticle(dir string, index int, rng *rand.Rand) error {
	system := pick(rng, systems)
	content := fmt.Sprintf(articleTemplate,
		system, pick(rng, topics),
		system,
		system, pick(rng, qualities), pick(rng, topics),
		pick(rng, actions), pick(rng, systems), pick(rng, systems),
		pick(rng, qualities),
		pick(rng, qualities), pick(rng, qualities),
		pick(rng, qualities), pick(rng, actions),
		pick(rng, qualities),
		pick(rng, systems), pick(rng, systems),
		system, pick(rng, systems),
	)
	name := fmt.Sprintf("article-%04d.md", index)
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

func writeLog(dir string, index int, rng *rand.Rand) error {
	content := fmt.Sprintf(logTemplate,
		pick(rng, topics), pick(rng, months),
		pick(rng, systems),
		pick(rng, systems), pick(rng, people), pick(rng, systems),
		pick(rng, systems),
		pick(rng, people), pick(rng, systems),
		pick(rng, actions),
		pick(rng, people), pick(rng, qualities),
	)
	name := fmt.Sprintf("log-%04d.txt", index)
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}
