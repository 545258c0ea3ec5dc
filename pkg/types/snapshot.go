package types

// OverlayModel (model event payload):
//   state: string
//   period | jam | lineup | timeout | intermission: { name, number, timeMs, running }
//   teams: [Team, Team]
//     idx, name, initials, colors { primary, secondary, text }
//     score, jamScore
//     onTrack: { pos: "Jammer"|"Pivot"|"Blocker1".."Blocker3", name, number }[]
//     jamStatus { lead, lost, starPass }, jamStatusLabel
//     timeouts, officialReviews, inTimeout, inOfficialReview
//     timeoutDots: { state: "empty"|"used"|"current" }[3], reviewDot
//     jammerRow { source: "live"|"previousJam", skater, starPass, jamScore }
//   mainClock: { mode, label, number, timeMs, display }
//   secondaryClock: same shape or null
//   statusLabel: string
//   phase: "pregame"|"final"|"unofficial"|"intermission"|"postTimeout"|"timeout"|"lineup"|"jam"|"idle"
//   ui: { jam, lineup, timeout, officialReview, intermission, pregame,
//         officialScore, unofficialScore, secondaryClock }
