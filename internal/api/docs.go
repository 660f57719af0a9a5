package api

const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>P2P Media Loader Worker API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
</head>
<body style="height: 100vh; margin: 0; position: relative;">
  <a href="/docs/events" style="
    position: fixed;
    top: 12px;
    right: 16px;
    z-index: 9999;
    background: #161b22;
    border: 1px solid #30363d;
    border-radius: 6px;
    color: #58a6ff;
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
    font-size: 12px;
    font-weight: 500;
    padding: 5px 12px;
    text-decoration: none;
  ">Event Feed Docs &rarr;</a>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`

const eventsDocsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Event Feed - P2P Media Loader Worker</title>
  <style>
    body { margin: 0; padding: 24px 32px; max-width: 860px; background: #0d1117; color: #c9d1d9;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; font-size: 14px; line-height: 1.65; }
    a { color: #58a6ff; text-decoration: none; }
    code, pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; font-size: 13px; }
    code { padding: 1px 5px; }
    pre { padding: 12px 16px; overflow-x: auto; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border: 1px solid #30363d; padding: 6px 10px; text-align: left; }
    th { background: #161b22; }
  </style>
</head>
<body>
  <p><a href="/docs">&larr; API reference</a></p>
  <h1>Event Feed</h1>
  <p>Worker lifecycle events are streamed as Server-Sent Events from
  <code>GET /api/v1/events</code>. Filter with <code>?feeds=session,fetch,settle</code>;
  omit the parameter to receive every feed.</p>

  <h2>Feeds</h2>
  <table>
    <tr><th>Feed</th><th>Kinds</th></tr>
    <tr><td><code>session</code></td><td><code>session_created</code>, <code>session_ready</code>, <code>session_destroyed</code></td></tr>
    <tr><td><code>fetch</code></td><td><code>fetch_intercepted</code></td></tr>
    <tr><td><code>settle</code></td><td><code>fetch_settled</code>, <code>fetch_failed</code></td></tr>
  </table>

  <h2>Frame</h2>
<pre>id: 42
event: settle
data: {"kind":"fetch_settled","client_id":"c1","url":"http://x/s1.ts","duration_ms":18,"at":"2026-01-01T00:00:00Z"}</pre>

  <h2>Example</h2>
<pre>curl -N 'http://127.0.0.1:8190/api/v1/events?feeds=fetch,settle'</pre>
  <p>Slow subscribers lose events rather than stall the worker.</p>
</body>
</html>`
