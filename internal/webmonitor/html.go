package webmonitor

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Traffic Sign Alert Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; }
        .app { max-width: 1100px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .badge { padding: 4px 10px; border-radius: 12px; background: #444; font-size: 13px; }
        .badge.running { background: #1b7f3a; }
        .badge.failed { background: #a12727; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; margin-top: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        #stream { width: 100%; height: auto; background: #000; }
        #labels { white-space: pre-line; font-size: 18px; min-height: 3em; }
        .controls { display: flex; gap: 8px; flex-wrap: wrap; margin-top: 8px; }
        .controls input[type=text] { flex: 1; }
        ul { padding-left: 18px; }
        .spoken { color: #ffd54f; }
    </style>
</head>
<body>
<div class="app">
    <div class="header">
        <h1>Traffic Sign Alert</h1>
        <span class="badge" id="status-badge">idle</span>
    </div>
    <div class="grid">
        <div class="panel">
            <img id="stream" src="/stream" alt="Annotated detection stream">
            <div class="controls">
                <select id="source">
                    <option value="image">Image</option>
                    <option value="video">Video</option>
                    <option value="camera">Camera</option>
                </select>
                <input type="text" id="path" placeholder="File path (image or video)">
                <button id="start">Start</button>
                <button id="stop">Stop</button>
            </div>
            <p id="error"></p>
        </div>
        <div class="panel">
            <h2>Detected</h2>
            <div id="labels">No detection</div>
            <h2>Recent</h2>
            <ul id="history"></ul>
        </div>
    </div>
</div>
<script>
    const badge = document.getElementById('status-badge');
    const labels = document.getElementById('labels');
    const history = document.getElementById('history');
    const errorBox = document.getElementById('error');

    function setBadge(state) {
        badge.textContent = state;
        badge.className = 'badge ' + state;
    }

    async function post(url, body) {
        errorBox.textContent = '';
        const resp = await fetch(url, {
            method: 'POST',
            headers: {'Content-Type': 'application/json'},
            body: JSON.stringify(body || {})
        });
        const data = await resp.json();
        if (!resp.ok) {
            errorBox.textContent = data.error || resp.statusText;
        }
        if (data.session) {
            setBadge(data.session.state);
        }
    }

    document.getElementById('start').onclick = () => post('/api/session/start', {
        source: document.getElementById('source').value,
        path: document.getElementById('path').value
    });
    document.getElementById('stop').onclick = () => post('/api/session/stop');

    const events = new EventSource('/api/detections/stream');
    events.onmessage = (msg) => {
        const ev = JSON.parse(msg.data);
        if (ev.type === 'idle') {
            labels.textContent = 'No detection';
            return;
        }
        labels.textContent = ev.label_text;
        if (ev.spoken) {
            const li = document.createElement('li');
            li.className = 'spoken';
            li.textContent = new Date(ev.timestamp * 1000).toLocaleTimeString() + ' ' + ev.spoken;
            history.prepend(li);
            while (history.children.length > 8) {
                history.removeChild(history.lastChild);
            }
        }
    };

    async function refreshStatus() {
        try {
            const resp = await fetch('/api/status');
            const data = await resp.json();
            setBadge(data.session.state);
            if (data.session.last_error) {
                errorBox.textContent = data.session.last_error;
            }
        } catch (e) {
            setBadge('offline');
        }
    }
    refreshStatus();
    setInterval(refreshStatus, 2000);
</script>
</body>
</html>
`
